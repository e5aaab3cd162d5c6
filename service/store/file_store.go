/*
 * @module service/store/file_store
 * @description 报表文件备份：把最近发布的报表写入目录，服务重启后作为读取兜底
 * @architecture 文件存储 - 每类报表一个固定文件名
 * @documentReference DESIGN.md
 * @stateFlow 写临时文件 -> fsync -> rename 覆盖正式文件
 * @rules
 *   - 写入是原子的，读者只会看到完整的旧文件或完整的新文件
 *   - 文件名与批处理脚本保持一致: churn_predictions.json, sales_data.json
 * @dependencies 标准库 (os, encoding/json)
 * @refs cmd/insight-cli, service/store/report_service.go
 */

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"insight-service/service/report"
)

// 报表备份文件名
var reportFileNames = map[string]string{
	report.KindChurn: "churn_predictions.json",
	report.KindSales: "sales_data.json",
}

// ReportFileName 返回某类报表的备份文件名
func ReportFileName(kind string) string {
	if name, ok := reportFileNames[kind]; ok {
		return name
	}
	return kind + ".json"
}

// FileStore 报表文件存储
type FileStore struct {
	dir string
}

// NewFileStore 创建文件存储
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir 备份目录
func (f *FileStore) Dir() string {
	return f.dir
}

// Read 读取备份报表
func (f *FileStore) Read(kind string) ([]byte, error) {
	payload, err := os.ReadFile(filepath.Join(f.dir, ReportFileName(kind)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取备份报表失败: %w", err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("备份报表不是有效的JSON: %s", ReportFileName(kind))
	}
	return payload, nil
}

// Write 写入备份报表
func (f *FileStore) Write(kind string, payload []byte) error {
	var indented bytes.Buffer
	if err := json.Indent(&indented, payload, "", "  "); err != nil {
		return fmt.Errorf("报表不是有效的JSON: %w", err)
	}
	indented.WriteByte('\n')
	return WriteFileAtomic(filepath.Join(f.dir, ReportFileName(kind)), indented.Bytes())
}

// ExportJSON 将任意值以缩进JSON原子写入文件
func ExportJSON(filename string, data interface{}) error {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return WriteFileAtomic(filename, append(payload, '\n'))
}

// WriteFileAtomic 写临时文件后重命名
func WriteFileAtomic(filename string, payload []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("替换文件失败: %w", err)
	}
	return nil
}

// TimestampedFilename 生成带时间戳的文件名
func TimestampedFilename(baseDir, name string, at time.Time) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s_%s.json", name, at.Format("20060102_150405")))
}
