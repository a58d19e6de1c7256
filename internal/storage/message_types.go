package storage

import "time"

// ResumeUploadedMessage 简历上传完成事件，发布到resume.events交换机
// 消费端按至少一次语义处理，字段足以独立完成整条流水线
type ResumeUploadedMessage struct {
	ResumeID   string    `json:"resume_id"`   // 简历ID (UUIDv7)
	ObjectKey  string    `json:"object_key"`  // MinIO中原始文件的对象键
	Filename   string    `json:"filename"`    // 原始文件名
	FileSize   int64     `json:"file_size"`   // 文件字节数
	ContentMD5 string    `json:"content_md5"` // 原始文件MD5
	UploadDate time.Time `json:"upload_date"` // 上传时间
}
