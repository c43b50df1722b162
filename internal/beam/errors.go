package beam

import "errors"

var (
	// ErrMisalignedInterval 區間未對齊 segment 粒度的桶邊界（呼叫端錯誤，不重試）
	ErrMisalignedInterval = errors.New("interval is not aligned to segment granularity")
	// ErrTaskSubmissionFailed 至少一個副本任務提交失敗，包裹第一個底層錯誤
	ErrTaskSubmissionFailed = errors.New("task submission failed")
	// ErrMalformedRecord 持久化記錄在新舊兩種格式下都缺少必要欄位
	ErrMalformedRecord = errors.New("malformed beam record")
	// ErrInvalidPartition partition 為負數
	ErrInvalidPartition = errors.New("partition must not be negative")
)
