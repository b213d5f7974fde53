package domain

// Entitlement 表示某个身份在某个 UTC 日期的额度状态。
type Entitlement struct {
	Identity  string `json:"identity"`
	Date      string `json:"date"` // YYYY-MM-DD (UTC)
	Count     int64  `json:"count"`
	Limit     int    `json:"limit"`
	Unlimited bool   `json:"unlimited"`
}

// Remaining 返回当日剩余的免费邮箱数量，无限额度返回 -1
func (e *Entitlement) Remaining() int64 {
	if e.Unlimited {
		return -1
	}
	left := int64(e.Limit) - e.Count
	if left < 0 {
		return 0
	}
	return left
}
