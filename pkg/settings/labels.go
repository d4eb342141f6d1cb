package settings

// labels are the user-visible strings for one locale.
type labels struct {
	statusActive   string
	statusInactive string
	signature      string
	signatureError string
	maxMemory      string
	memoryError    string
}

var locales = map[string]labels{
	"en": {
		statusActive:   "Module status: [activated]",
		statusInactive: "Module status: [not activated]",
		signature:      "Signature probe",
		signatureError: "unavailable: %v",
		maxMemory:      "Max memory",
		memoryError:    "unavailable: %v",
	},
	"zh": {
		statusActive:   "模块状态: [已激活]",
		statusInactive: "模块状态: [未激活]",
		signature:      "签名测试",
		signatureError: "不可用: %v",
		maxMemory:      "最大内存",
		memoryError:    "不可用: %v",
	},
}

func labelsFor(locale string) labels {
	if l, ok := locales[locale]; ok {
		return l
	}
	return locales["en"]
}
