package constants

// Redis Key 前缀和格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToID MD5到简历ID的映射实体
	EntityMD5ToID = "md5_to_id"

	// KeyFileMD5Set 原始文件MD5集合，用于内容去重 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToResumeID MD5到简历ID的映射 (STRING)
	// 格式: app:file:md5_to_id:{md5}
	KeyFileMD5ToResumeID = AppPrefix + ":" + FileModulePrefix + ":" + EntityMD5ToID + ":%s"
)
