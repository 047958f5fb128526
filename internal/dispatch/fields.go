package dispatch

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// flatten 将 JSON 对象的顶层字段转为字符串映射；
// 字符串形式的 JSON 对象会被再解析一层，其余标量放在 "result" 下。
func flatten(value gjson.Result) (map[string]string, json.RawMessage) {
	fields := make(map[string]string)
	if value.Type == gjson.String && gjson.Valid(value.Str) {
		inner := gjson.Parse(value.Str)
		if inner.IsObject() {
			value = inner
		}
	}
	if !value.Exists() || value.Type == gjson.Null {
		return fields, nil
	}
	if value.IsObject() {
		value.ForEach(func(key, item gjson.Result) bool {
			fields[key.String()] = item.String()
			return true
		})
		return fields, json.RawMessage(value.Raw)
	}
	fields["result"] = value.String()
	return fields, json.RawMessage(value.Raw)
}
