package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（例如部分员工生成失败但批次继续）
// - 5xxx：系统错误（需要中断流程）
const (
	OK            = 0
	PartialFailed = 4001
	NotFound      = 4004
	SystemError   = 5000
)
