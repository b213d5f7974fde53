package domain

// DefaultCountry 无法识别国家或该国家未配置价格时使用的回退国家
const DefaultCountry = "US"

// Pricing 表示某个国家的套餐价格。
type Pricing struct {
	Country  string            `json:"country"`
	Currency string            `json:"currency"`
	Plans    map[string]string `json:"plans"`
}

// PlanNames 套餐字段，与存储中哈希的字段名一致
var PlanNames = []string{"week", "month", "3month", "12month"}
