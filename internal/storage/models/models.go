package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Resume 简历记录，文档库中的唯一权威数据
// 状态单向推进: uploaded -> processing -> {processed|failed}
type Resume struct {
	ResumeID   string    `gorm:"column:resume_id;type:char(36);primaryKey" json:"resume_id"`
	Filename   string    `gorm:"column:filename;type:varchar(255);not null;index:idx_resumes_filename" json:"filename"`
	Status     string    `gorm:"column:status;type:varchar(20);not null;default:'uploaded';index:idx_resumes_status" json:"status"`
	UploadDate time.Time `gorm:"column:upload_date;not null;index:idx_resumes_upload_date" json:"upload_date"`

	// MinIO中原始文件的对象键
	ObjectKey string `gorm:"column:object_key;type:varchar(512);not null" json:"object_key"`
	// 原始文件内容MD5，用于去重
	ContentMD5 string `gorm:"column:content_md5;type:char(32);index:idx_resumes_content_md5" json:"content_md5"`

	// 结构化提取结果（types.ResumeContent 的JSON）
	Content datatypes.JSON `gorm:"column:content;type:json" json:"content,omitempty"`
	// 文件与处理元信息（types.FileMetadata 的JSON）
	FileMetadata datatypes.JSON `gorm:"column:file_metadata;type:json" json:"file_metadata,omitempty"`

	// 向量库中对应点的ID，处理成功后写入
	VectorID string `gorm:"column:vector_id;type:varchar(64);index:idx_resumes_vector_id" json:"vector_id,omitempty"`

	// 处理失败时的错误信息
	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message,omitempty"`

	// 提取文本/技能/摘要拼接后的全文检索列
	SearchText string `gorm:"column:search_text;type:text;index:idx_resumes_search_text,class:FULLTEXT" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Resume) TableName() string {
	return "resumes"
}

// StructToJSON 将任意结构体序列化为datatypes.JSON
func StructToJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化为JSON失败: %w", err)
	}
	return datatypes.JSON(data), nil
}

// JSONToStruct 将datatypes.JSON反序列化到目标结构体
func JSONToStruct(data datatypes.JSON, dest interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}
