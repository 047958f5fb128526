package wizard

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	MaxNameLength        = 15
	SymbolLength         = 3
	MaxDescriptionLength = 500
	MaxAmountDecimals    = 18
	MaxImageBytes        = 2048 * 1024
)

var (
	amountPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

	imageTypes = map[string]string{
		"image/jpeg": "image/jpeg",
		"image/jpg":  "image/jpeg",
		"image/png":  "image/png",
	}
	imageExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
	}

	maxSlippage = decimal.NewFromInt(50)
	hundred     = decimal.NewFromInt(100)
)

// Required 返回去除首尾空白后的值，空值报错。
func Required(payload map[string]string, field, label string) (string, error) {
	value := strings.TrimSpace(payload[field])
	if value == "" {
		return "", invalid(field, label+" is required")
	}
	return value, nil
}

// TokenName 校验代币名称，超长直接拒绝。
func TokenName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid("token_name", "Token name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", invalid("token_name", fmt.Sprintf("Token name must be %d characters or fewer", MaxNameLength))
	}
	return name, nil
}

// TokenSymbol 转为大写并剔除非字母字符，结果必须恰好 3 个字母。
func TokenSymbol(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", invalid("token_symbol", "Token symbol is required")
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	symbol := b.String()
	if len(symbol) != SymbolLength {
		return "", invalid("token_symbol", fmt.Sprintf("Token symbol must be exactly %d letters", SymbolLength))
	}
	return symbol, nil
}

// Description 校验可选描述。
func Description(raw string) (string, error) {
	desc := strings.TrimSpace(raw)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return "", invalid("description", fmt.Sprintf("Description must be %d characters or fewer", MaxDescriptionLength))
	}
	return desc, nil
}

// Amount 以精确十进制解析正数金额，拒绝负数、零、非数字与超过 18 位小数的输入。
func Amount(field, raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, invalid(field, "Amount is required")
	}
	if !amountPattern.MatchString(value) {
		return decimal.Zero, invalid(field, "Amount must be a positive number")
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, invalid(field, "Amount must be a positive number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid(field, "Amount must be greater than zero")
	}
	if -amount.Exponent() > MaxAmountDecimals {
		trimmed := decimal.RequireFromString(amount.String())
		if -trimmed.Exponent() > MaxAmountDecimals {
			return decimal.Zero, invalid(field, fmt.Sprintf("Amount supports at most %d decimal places", MaxAmountDecimals))
		}
	}
	return amount, nil
}

// Confirmation 接受 yes/no，大小写不敏感。
func Confirmation(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes":
		return "yes", nil
	case "no":
		return "no", nil
	case "":
		return "", invalid("confirmation", "Confirmation is required")
	default:
		return "", invalid("confirmation", "Please answer yes or no")
	}
}

// OptionalURL 校验可选的 http(s) 绝对地址。
func OptionalURL(field, label, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", invalid(field, label+" must be a valid http(s) URL")
	}
	return parsed.String(), nil
}

// Image 校验上传图片的引用、类型与大小，返回归一化的内容类型。
func Image(ref, contentType, size string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", invalid("image", "Token image is required")
	}
	kind := ""
	if ct := strings.ToLower(strings.TrimSpace(contentType)); ct != "" {
		normalized, ok := imageTypes[ct]
		if !ok {
			return "", invalid("image", "Image must be a JPEG or PNG file")
		}
		kind = normalized
	} else {
		normalized, ok := imageExtensions[strings.ToLower(path.Ext(ref))]
		if !ok {
			return "", invalid("image", "Image must be a JPEG or PNG file")
		}
		kind = normalized
	}
	if raw := strings.TrimSpace(size); raw != "" {
		bytes, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || bytes <= 0 {
			return "", invalid("image", "Image size is invalid")
		}
		if bytes > MaxImageBytes {
			return "", invalid("image", "Image must be 2048 KB or smaller")
		}
	}
	return kind, nil
}

// Address 校验并返回 EIP-55 校验和格式的地址。
func Address(field, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if !common.IsHexAddress(value) {
		return "", invalid(field, "Address must be a 0x-prefixed 20-byte hex address")
	}
	return common.HexToAddress(value).Hex(), nil
}

// Slippage 校验滑点百分比，范围 (0, 50]。
func Slippage(raw string) (decimal.Decimal, error) {
	value, err := Amount("slippage", strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if err != nil {
		return decimal.Zero, invalid("slippage", "Slippage must be a positive percentage")
	}
	if value.GreaterThan(maxSlippage) {
		return decimal.Zero, invalid("slippage", "Slippage cannot exceed 50%")
	}
	return value, nil
}

// MinimumReceived 计算 estimated × (1 − slippage/100)，全程精确十进制。
func MinimumReceived(estimated, slippage decimal.Decimal) decimal.Decimal {
	return estimated.Mul(hundred.Sub(slippage)).Div(hundred)
}
