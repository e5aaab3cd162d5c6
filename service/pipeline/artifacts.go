package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"insight-service/service/classifier"
	"insight-service/service/features"
	"insight-service/service/models"
)

// FeatureArtifact 特征构建状态与训练时的锚点日期
type FeatureArtifact struct {
	State  features.State `json:"state"`
	Anchor time.Time      `json:"anchor"`
}

// Artifacts 一次运行的拟合产物
type Artifacts struct {
	Features FeatureArtifact
	Model    classifier.ModelState
}

// Encode 按产物类型序列化
func (a *Artifacts) Encode() (map[string][]byte, error) {
	featuresJSON, err := json.Marshal(a.Features)
	if err != nil {
		return nil, fmt.Errorf("序列化特征状态失败: %w", err)
	}
	modelJSON, err := json.Marshal(a.Model)
	if err != nil {
		return nil, fmt.Errorf("序列化模型失败: %w", err)
	}
	return map[string][]byte{
		models.ArtifactFeatures: featuresJSON,
		models.ArtifactModel:    modelJSON,
	}, nil
}

// DecodeArtifacts 从持久化内容恢复产物
func DecodeArtifacts(raw map[string][]byte) (*Artifacts, error) {
	featuresJSON, ok := raw[models.ArtifactFeatures]
	if !ok {
		return nil, fmt.Errorf("缺少 %s 产物", models.ArtifactFeatures)
	}
	modelJSON, ok := raw[models.ArtifactModel]
	if !ok {
		return nil, fmt.Errorf("缺少 %s 产物", models.ArtifactModel)
	}

	a := &Artifacts{}
	if err := json.Unmarshal(featuresJSON, &a.Features); err != nil {
		return nil, fmt.Errorf("解析特征状态失败: %w", err)
	}
	if err := json.Unmarshal(modelJSON, &a.Model); err != nil {
		return nil, fmt.Errorf("解析模型失败: %w", err)
	}
	return a, nil
}
