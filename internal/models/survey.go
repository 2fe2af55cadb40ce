package models

import (
	"strings"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// 调查状态
const (
	SurveyStatusActive        = "active"
	SurveyStatusInactive      = "inactive"
	SurveyStatusDraft         = "draft"
	SurveyStatusPendingDelete = "pending-delete"
)

// Survey 调查问卷模型
type Survey struct {
	BaseModel
	SurveyUID      string     `gorm:"column:survey_uid;uniqueIndex;size:13;not null" json:"survey_uid"`
	CustomerID     uint       `gorm:"not null;index" json:"customer_id" validate:"required"`
	Name           string     `gorm:"size:255;not null" json:"name" validate:"required,max=255"`
	DisplayName    string     `gorm:"size:255" json:"display_name" validate:"max=255"`
	Description    string     `gorm:"type:text" json:"description" validate:"max=65535"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	FinishRedirect string     `gorm:"size:255" json:"finish_redirect" validate:"omitempty,url,max=255"`
	Status         string     `gorm:"size:15;not null;index" json:"status" validate:"required,oneof=active inactive draft pending-delete"`

	Customer   *Customer         `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	Fields     []SurveyField     `gorm:"foreignKey:SurveyID" json:"fields,omitempty" validate:"-"`
	Responders []SurveyResponder `gorm:"foreignKey:SurveyID" json:"-" validate:"-"`
}

// TableName 指定表名
func (Survey) TableName() string {
	return "surveys"
}

// AttributeLabels 字段显示名称
func (Survey) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"survey_uid":      "Unique ID",
		"customer_id":     "Customer",
		"name":            "Name",
		"display_name":    "Display name",
		"description":     "Description",
		"start_at":        "Start at",
		"end_at":          "End at",
		"finish_redirect": "Finish redirect",
		"status":          "Status",
	})
}

// AttributeHelpTexts 字段帮助文本
func (Survey) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"name":            "Your survey verbose name. It will be shown in your customer area sections",
		"display_name":    "Your survey display name. This name will be used in the public pages",
		"description":     "Please use an accurate survey description, but keep it brief",
		"start_at":        "The date when the survey starts accepting responses, leave empty to start right away",
		"end_at":          "The date when the survey stops accepting responses, leave empty to never end",
		"finish_redirect": "Optionally, redirect responders to this url after they submit the survey",
	}
}

// BeforeSave 保存前生成uid并验证时间范围
func (s *Survey) BeforeSave(tx *gorm.DB) error {
	if err := ensureUID(tx, &Survey{}, "survey_uid", &s.SurveyUID); err != nil {
		return err
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Name
	}
	if s.Status == "" {
		s.Status = SurveyStatusDraft
	}

	errs, err := validation.Collect(s)
	if err != nil {
		return err
	}
	if s.StartAt != nil && s.EndAt != nil && !s.EndAt.After(*s.StartAt) {
		labels := s.AttributeLabels()
		errs.Add("end_at", labels["end_at"]+" must be after "+labels["start_at"]+".")
	}
	return errs.OrNil()
}

// IsActive 是否处于激活状态
func (s *Survey) IsActive() bool {
	return s.Status == SurveyStatusActive
}

// IsOpenAt 指定时间是否在调查开放时间内
func (s *Survey) IsOpenAt(t time.Time) bool {
	if !s.IsActive() {
		return false
	}
	if s.StartAt != nil && t.Before(*s.StartAt) {
		return false
	}
	if s.EndAt != nil && t.After(*s.EndAt) {
		return false
	}
	return true
}

// 调查字段类型
const (
	SurveyFieldTypeText            = "text"
	SurveyFieldTypeTextarea        = "textarea"
	SurveyFieldTypeDropdown        = "dropdown"
	SurveyFieldTypeMultiselect     = "multiselect"
	SurveyFieldTypeCheckbox        = "checkbox"
	SurveyFieldTypeRadiolist       = "radiolist"
	SurveyFieldTypeDate            = "date"
	SurveyFieldTypeDatetime        = "datetime"
	SurveyFieldTypeEmail           = "email"
	SurveyFieldTypeNumber          = "number"
	SurveyFieldTypePhone           = "phone"
	SurveyFieldTypeURL             = "url"
	SurveyFieldTypeRating          = "rating"
	SurveyFieldTypeConsentCheckbox = "consentcheckbox"
)

// SurveyField 调查字段
type SurveyField struct {
	BaseModel
	SurveyID     uint   `gorm:"not null;index" json:"survey_id" validate:"required"`
	Type         string `gorm:"size:20;not null" json:"type" validate:"required,oneof=text textarea dropdown multiselect checkbox radiolist date datetime email number phone url rating consentcheckbox"`
	Label        string `gorm:"size:255;not null" json:"label" validate:"required,max=255"`
	DefaultValue string `gorm:"size:255" json:"default_value" validate:"max=255"`
	HelpText     string `gorm:"size:255" json:"help_text" validate:"max=255"`
	Description  string `gorm:"type:text" json:"description" validate:"max=65535"`
	Required     bool   `gorm:"not null" json:"required"`
	Visibility   string `gorm:"size:15;not null" json:"visibility" validate:"required,oneof=visible hidden none"`
	SortOrder    int    `gorm:"not null" json:"sort_order" validate:"gte=-100,lte=100"`
	MinLength    int    `gorm:"not null" json:"min_length" validate:"gte=0"`
	MaxLength    int    `gorm:"not null" json:"max_length" validate:"gte=0"`

	Survey  *Survey             `gorm:"foreignKey:SurveyID" json:"-" validate:"-"`
	Options []SurveyFieldOption `gorm:"foreignKey:FieldID" json:"options,omitempty" validate:"-"`
}

// TableName 指定表名
func (SurveyField) TableName() string {
	return "survey_fields"
}

// AttributeLabels 字段显示名称
func (SurveyField) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"survey_id":     "Survey",
		"type":          "Type",
		"label":         "Label",
		"default_value": "Default value",
		"help_text":     "Help text",
		"description":   "Description",
		"required":      "Required",
		"visibility":    "Visibility",
		"sort_order":    "Sort order",
		"min_length":    "Min. length",
		"max_length":    "Max. length",
	})
}

// AttributeHelpTexts 字段帮助文本
func (SurveyField) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"label":         "This is what your responders will see above the input field",
		"default_value": "In case this field is not required and you need a default value for it",
		"help_text":     "This is a help text that will be shown to your responders under the input field",
		"description":   "Additional description for this field to show to the responders",
		"required":      "Whether the responder is required to fill in this field",
		"visibility":    "Hidden fields are not shown to responders",
		"sort_order":    "Decide the order of the fields shown in the form",
		"min_length":    "Minimum number of characters for text fields, 0 for no limit",
		"max_length":    "Maximum number of characters for text fields, 0 for no limit",
	}
}

// BeforeSave 保存前验证长度范围
func (f *SurveyField) BeforeSave(tx *gorm.DB) error {
	if f.Visibility == "" {
		f.Visibility = FieldVisibilityVisible
	}
	errs, err := validation.Collect(f)
	if err != nil {
		return err
	}
	if f.MaxLength > 0 && f.MinLength > f.MaxLength {
		labels := f.AttributeLabels()
		errs.Add("max_length", labels["max_length"]+" must be greater than or equal to "+labels["min_length"]+".")
	}
	return errs.OrNil()
}

// HasOptions 是否为带选项的字段类型
func (f *SurveyField) HasOptions() bool {
	switch f.Type {
	case SurveyFieldTypeDropdown, SurveyFieldTypeMultiselect, SurveyFieldTypeRadiolist:
		return true
	}
	return false
}

// IsMultiValue 是否允许多个值
func (f *SurveyField) IsMultiValue() bool {
	return f.Type == SurveyFieldTypeMultiselect
}

// SurveyFieldOption 调查字段的可选项
type SurveyFieldOption struct {
	BaseModel
	FieldID   uint   `gorm:"not null;index" json:"field_id" validate:"required"`
	Name      string `gorm:"size:255;not null" json:"name" validate:"required,max=255"`
	Value     string `gorm:"size:255;not null" json:"value" validate:"required,max=255"`
	IsDefault bool   `gorm:"not null" json:"is_default"`

	Field *SurveyField `gorm:"foreignKey:FieldID" json:"-" validate:"-"`
}

// TableName 指定表名
func (SurveyFieldOption) TableName() string {
	return "survey_field_options"
}

// AttributeLabels 字段显示名称
func (SurveyFieldOption) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"field_id":   "Field",
		"name":       "Name",
		"value":      "Value",
		"is_default": "Is default",
	})
}

// AttributeHelpTexts 字段帮助文本
func (SurveyFieldOption) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"name":       "The label of the option shown to responders",
		"value":      "The value stored when this option is selected",
		"is_default": "Whether this option is selected by default",
	}
}

// BeforeSave 保存前验证
func (o *SurveyFieldOption) BeforeSave(tx *gorm.DB) error {
	o.Name = strings.TrimSpace(o.Name)
	o.Value = strings.TrimSpace(o.Value)
	return validation.Struct(o)
}

// 调查回答者状态
const (
	ResponderStatusActive   = "active"
	ResponderStatusInactive = "inactive"
)

// SurveyResponder 调查回答者
type SurveyResponder struct {
	BaseModel
	ResponderUID string `gorm:"column:responder_uid;uniqueIndex;size:13;not null" json:"responder_uid"`
	SurveyID     uint   `gorm:"not null;index" json:"survey_id" validate:"required"`
	SubscriberID *uint  `gorm:"index" json:"subscriber_id,omitempty"`
	IPAddress    string `gorm:"column:ip_address;size:45" json:"ip_address" validate:"omitempty,ip"`
	Status       string `gorm:"size:15;not null" json:"status" validate:"required,oneof=active inactive"`

	Survey     *Survey            `gorm:"foreignKey:SurveyID" json:"-" validate:"-"`
	Subscriber *ListSubscriber    `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty" validate:"-"`
	Values     []SurveyFieldValue `gorm:"foreignKey:ResponderID" json:"values,omitempty" validate:"-"`
}

// TableName 指定表名
func (SurveyResponder) TableName() string {
	return "survey_responders"
}

// AttributeLabels 字段显示名称
func (SurveyResponder) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"responder_uid": "Unique ID",
		"survey_id":     "Survey",
		"subscriber_id": "Subscriber",
		"ip_address":    "Ip address",
		"status":        "Status",
	})
}

// AttributeHelpTexts 字段帮助文本
func (SurveyResponder) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 保存前生成uid并验证
func (r *SurveyResponder) BeforeSave(tx *gorm.DB) error {
	if err := ensureUID(tx, &SurveyResponder{}, "responder_uid", &r.ResponderUID); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = ResponderStatusActive
	}
	return validation.Struct(r)
}

// SurveyFieldValue 回答者填写的字段值
type SurveyFieldValue struct {
	BaseModel
	FieldID     uint   `gorm:"not null;index" json:"field_id" validate:"required"`
	ResponderID uint   `gorm:"not null;index" json:"responder_id" validate:"required"`
	Value       string `gorm:"type:text" json:"value" validate:"max=65535"`

	Field     *SurveyField     `gorm:"foreignKey:FieldID" json:"field,omitempty" validate:"-"`
	Responder *SurveyResponder `gorm:"foreignKey:ResponderID" json:"-" validate:"-"`
}

// TableName 指定表名
func (SurveyFieldValue) TableName() string {
	return "survey_field_values"
}

// AttributeLabels 字段显示名称
func (SurveyFieldValue) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"field_id":     "Field",
		"responder_id": "Responder",
		"value":        "Value",
	})
}

// AttributeHelpTexts 字段帮助文本
func (SurveyFieldValue) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 保存前验证
func (v *SurveyFieldValue) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(v)
}
