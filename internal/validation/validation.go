package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	instance *validator.Validate
	once     sync.Once

	uidPattern        = regexp.MustCompile(`^[a-z0-9]{13}$`)
	listTagPattern    = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,49}$`)
	headerNamePattern = regexp.MustCompile(`^X-[A-Za-z0-9\-]{1,100}$`)
	hostnamePattern   = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
)

// Labeler 提供字段显示名称的模型
type Labeler interface {
	AttributeLabels() map[string]string
}

// Validator 返回全局验证器实例
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New()

		// 使用json标签作为字段名，和API返回的字段保持一致
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})

		mustRegister(v, "uid", func(fl validator.FieldLevel) bool {
			return uidPattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "listtag", func(fl validator.FieldLevel) bool {
			return listTagPattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "header_name", func(fl validator.FieldLevel) bool {
			return headerNamePattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "domain_pattern", func(fl validator.FieldLevel) bool {
			return IsDomainPattern(fl.Field().String())
		})
		mustRegister(v, "hostname_or_ip", func(fl validator.FieldLevel) bool {
			return IsHostnameOrIP(fl.Field().String())
		})

		instance = v
	})
	return instance
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("failed to register validation %q: %v", tag, err))
	}
}

// IsDomainPattern 检查域名匹配规则：*、example.com、*.example.com
func IsDomainPattern(s string) bool {
	if s == "*" {
		return true
	}
	s = strings.TrimPrefix(s, "*.")
	return s != "" && hostnamePattern.MatchString(s)
}

// IsHostnameOrIP 检查主机名或IP地址
func IsHostnameOrIP(s string) bool {
	if s == "" {
		return false
	}
	if err := Validator().Var(s, "ip"); err == nil {
		return true
	}
	return hostnamePattern.MatchString(s)
}

// Errors 字段验证错误集合，key为字段名
type Errors map[string]string

// Error 实现error接口
func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add 添加字段错误，同一字段只保留第一条
func (e Errors) Add(field, message string) {
	if _, exists := e[field]; !exists {
		e[field] = message
	}
}

// HasErrors 是否存在错误
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// OrNil 没有错误时返回nil，避免把空map当作error返回
func (e Errors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// AsErrors 从error链中取出字段错误
func AsErrors(err error) (Errors, bool) {
	var errs Errors
	if errors.As(err, &errs) {
		return errs, true
	}
	return nil, false
}

// Collect 按struct标签验证模型，返回带显示名称的字段错误
func Collect(model interface{}) (Errors, error) {
	errs := Errors{}
	err := Validator().Struct(model)
	if err == nil {
		return errs, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}

	labels := map[string]string{}
	if labeler, ok := model.(Labeler); ok {
		labels = labeler.AttributeLabels()
	}

	for _, fe := range fieldErrs {
		field := fe.Field()
		errs.Add(field, Message(fe.Tag(), fe.Param(), Label(labels, field)))
	}
	return errs, nil
}

// Struct 验证模型并返回error（Errors或nil）
func Struct(model interface{}) error {
	errs, err := Collect(model)
	if err != nil {
		return err
	}
	return errs.OrNil()
}

// Label 获取字段显示名称，没有配置时由字段名生成
func Label(labels map[string]string, field string) string {
	if label, ok := labels[field]; ok && label != "" {
		return label
	}
	words := strings.Split(field, "_")
	if len(words) > 0 && words[0] != "" {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}

// Message 根据验证规则生成错误消息
func Message(tag, param, label string) string {
	switch tag {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s cannot be blank.", label)
	case "email":
		return fmt.Sprintf("%s is not a valid email address.", label)
	case "url":
		return fmt.Sprintf("%s is not a valid URL.", label)
	case "oneof":
		return fmt.Sprintf("%s is invalid.", label)
	case "min":
		return fmt.Sprintf("%s is too small (minimum is %s).", label, param)
	case "max":
		return fmt.Sprintf("%s is too big (maximum is %s).", label, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s.", label, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s.", label, param)
	case "gtfield":
		return fmt.Sprintf("%s must be after %s.", label, param)
	case "uid":
		return fmt.Sprintf("%s is not a valid unique identifier.", label)
	case "listtag":
		return fmt.Sprintf("%s must be uppercase letters, digits and underscores.", label)
	case "header_name":
		return fmt.Sprintf("%s must start with X- and contain only letters, digits and dashes.", label)
	case "domain_pattern":
		return fmt.Sprintf("%s is not a valid domain pattern.", label)
	case "hostname_or_ip":
		return fmt.Sprintf("%s is not a valid hostname or IP address.", label)
	case "ip":
		return fmt.Sprintf("%s is not a valid IP address.", label)
	case "timezone":
		return fmt.Sprintf("%s is not a valid timezone.", label)
	default:
		return fmt.Sprintf("%s is invalid.", label)
	}
}
