package types

import "time"

// ExperienceEntry 一段工作/项目经历，按提取顺序保存
type ExperienceEntry struct {
	Company     string `json:"company"`
	Position    string `json:"position"`
	Duration    string `json:"duration"` // 自由文本区间，如 "2019 - 2022"
	Description string `json:"description"`
}

// EducationEntry 一条教育经历
type EducationEntry struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Year        string `json:"year,omitempty"`
}

// ContactInfo 联系方式，各字段均可缺失
type ContactInfo struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// ResumeContent 结构化提取结果 + 原始文本
type ResumeContent struct {
	Text        string            `json:"text"`
	Skills      []string          `json:"skills"`
	Experience  []ExperienceEntry `json:"experience"`
	Education   []EducationEntry  `json:"education"`
	ContactInfo ContactInfo       `json:"contact_info"`
	Summary     string            `json:"summary"`
}

// FileMetadata 文件与处理过程元信息
type FileMetadata struct {
	FileSize          int64     `json:"file_size"`
	Pages             int       `json:"pages"`
	ProcessingSeconds float64   `json:"processing_time"`
	ExtractedAt       time.Time `json:"extracted_at"`
}

// ResumeChunk 送入向量化的一个语义分块
type ResumeChunk struct {
	Type    string `json:"type"` // text / skills / experience
	Content string `json:"content"`
}

// SearchMatch 一条检索命中结果，按需拼装，不落库
type SearchMatch struct {
	ResumeID   string    `json:"resume_id"`
	Filename   string    `json:"filename"`
	Score      float32   `json:"similarity_score"`
	Skills     []string  `json:"skills"`
	Summary    string    `json:"summary"`
	UploadDate time.Time `json:"upload_date"`
}
