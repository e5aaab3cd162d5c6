/*
 * @module cmd/insight-cli
 * @description 批处理命令行：读取客户数据集，运行完整流水线，写出 churn_predictions.json 与 sales_data.json
 * @architecture 命令行入口 - 复用服务端流水线，不依赖数据库
 * @documentReference DESIGN.md
 * @stateFlow 解析参数 -> 加载配置 -> 运行流水线 -> 原子写文件 -> 可选推送到服务端
 * @rules 流水线失败时不写任何输出文件，退出码非零
 * @dependencies github.com/schollz/progressbar/v3, github.com/joho/godotenv
 * @refs service/pipeline/pipeline.go, service/store/file_store.go
 */

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"insight-service/api/middleware"
	"insight-service/logger"
	"insight-service/service/config"
	"insight-service/service/dataset"
	"insight-service/service/models"
	"insight-service/service/pipeline"
	"insight-service/service/report"
	"insight-service/service/store"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
)

// progressObserver 以进度条展示阶段进度
type progressObserver struct {
	bar *progressbar.ProgressBar
}

func newProgressObserver() *progressObserver {
	bar := progressbar.NewOptions(len(pipeline.Stages),
		progressbar.OptionSetDescription("pipeline"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	return &progressObserver{bar: bar}
}

func (p *progressObserver) StageFinished(stage string, duration time.Duration, err error) {
	if err != nil {
		p.bar.Describe(stage + " failed")
		return
	}
	p.bar.Describe(stage)
	_ = p.bar.Add(1)
}

func (p *progressObserver) RunFinished(run *models.PipelineRun, duration time.Duration) {
	_ = p.bar.Finish()
	fmt.Fprintln(os.Stderr)
}

func main() {
	_ = godotenv.Load()

	var (
		input      = flag.String("input", "dataset.csv", "客户数据集CSV路径")
		output     = flag.String("output", "data", "输出目录")
		configPath = flag.String("config", "", "流水线配置文件（yaml/toml/json）")
		encoding   = flag.String("encoding", "", "输入文件编码: utf-8, gbk, latin1")
		sqlDSN     = flag.String("sql-dsn", "", "从数据库读取时的连接串（postgres:// 或 mysql://）")
		sqlQuery   = flag.String("sql-query", "", "从数据库读取时的查询语句")
		postURL    = flag.String("post", "", "服务端地址，设置后将报表推送到 {post}/api/churn 与 {post}/api/sales")
		apiKey     = flag.String("api-key", os.Getenv("INSIGHT_API_KEY"), "推送报表使用的API Key")
		snapshot   = flag.Bool("snapshot", false, "额外写出带时间戳的报表副本")
		hashKey    = flag.String("hash-key", "", "输出给定API Key的bcrypt哈希后退出")
		logLevel   = flag.String("log-level", "warn", "日志级别")
	)
	flag.Parse()
	logger.InitLogger(*logLevel)

	if *hashKey != "" {
		hash, err := middleware.HashAPIKey(*hashKey, 0)
		if err != nil {
			fatal("生成哈希失败", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.LoadPipelineConfig(*configPath)
	if err != nil {
		fatal("加载配置失败", err)
	}

	var source dataset.Source
	if *sqlDSN != "" {
		source = dataset.NewSQLSource(*sqlDSN, *sqlQuery)
	} else {
		enc := *encoding
		if enc == "" {
			enc = cfg.Dataset.Encoding
		}
		source = dataset.NewCSVSource(*input, enc)
	}

	p, err := pipeline.New(cfg, source, pipeline.WithObserver(newProgressObserver()))
	if err != nil {
		fatal("创建流水线失败", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := p.Run(ctx, models.TriggerCLI)
	if err != nil {
		fatal(fmt.Sprintf("流水线在 %s 阶段失败", pipeline.FailedStage(err)), err)
	}

	files := store.NewFileStore(*output)
	for _, kind := range []string{report.KindChurn, report.KindSales} {
		if err := files.Write(kind, result.Reports[kind]); err != nil {
			fatal("写出报表失败", err)
		}
		if *snapshot {
			path := store.TimestampedFilename(*output, kind, time.Now())
			if err := store.WriteFileAtomic(path, result.Reports[kind]); err != nil {
				fatal("写出报表副本失败", err)
			}
		}
	}
	if err := store.ExportJSON(filepath.Join(*output, "run_summary.json"), result.Run); err != nil {
		fatal("写出运行摘要失败", err)
	}
	fmt.Printf("已写出 %s 与 %s 到 %s（客户 %d，流失 %d，准确率 %.3f）\n",
		store.ReportFileName(report.KindChurn), store.ReportFileName(report.KindSales), files.Dir(),
		result.Run.Customers, result.Labels.Positives, result.Metrics.Accuracy)

	if *postURL != "" {
		for _, kind := range []string{report.KindChurn, report.KindSales} {
			if err := postReport(ctx, *postURL, *apiKey, kind, result.Reports[kind]); err != nil {
				fatal("推送报表失败", err)
			}
		}
		fmt.Printf("报表已推送到 %s\n", *postURL)
	}
}

// postReport 推送报表到服务端的替换接口
func postReport(ctx context.Context, baseURL, apiKey, kind string, payload []byte) error {
	url := strings.TrimSuffix(baseURL, "/") + "/api/" + kind
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s 返回 %d", url, resp.StatusCode)
	}
	return nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
