package constants

// 简历处理状态，状态只能单向推进: uploaded -> processing -> {processed|failed}
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// TerminalStatuses 终态集合，进入终态后记录只读（删除除外）
var TerminalStatuses = map[string]bool{
	StatusProcessed: true,
	StatusFailed:    true,
}

// RabbitMQ 拓扑常量
const (
	ResumeEventsExchange  = "resume.events"
	ResumeProcessQueue    = "resume.process.queue"
	ResumeUploadedRouting = "resume.uploaded"
)

// HTTP 认证头
const APIKeyHeader = "X-API-Key"
