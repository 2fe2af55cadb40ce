package models

import "sort"

// Registry 模型名称到原型的映射，用于查询字段名称和帮助文本
var Registry = map[string]Labeled{
	"user":                          &User{},
	"customer":                      &Customer{},
	"customer_group":                &CustomerGroup{},
	"customer_quota_mark":           &CustomerQuotaMark{},
	"delivery_server":               &DeliveryServer{},
	"delivery_server_domain_policy": &DeliveryServerDomainPolicy{},
	"delivery_server_usage_log":     &DeliveryServerUsageLog{},
	"bounce_server":                 &BounceServer{},
	"list":                          &List{},
	"list_field":                    &ListField{},
	"list_field_value":              &ListFieldValue{},
	"list_subscriber":               &ListSubscriber{},
	"list_subscriber_list_move":     &ListSubscriberListMove{},
	"campaign":                      &Campaign{},
	"campaign_group":                &CampaignGroup{},
	"campaign_option":               &CampaignOption{},
	"campaign_template":             &CampaignTemplate{},
	"campaign_url":                  &CampaignURL{},
	"campaign_delivery_log":         &CampaignDeliveryLog{},
	"campaign_bounce_log":           &CampaignBounceLog{},
	"campaign_track_open":           &CampaignTrackOpen{},
	"campaign_track_url":            &CampaignTrackURL{},
	"campaign_share_code":           &CampaignShareCode{},
	"campaign_webhook":              &CampaignWebhook{},
	"campaign_webhook_queue":        &CampaignWebhookQueue{},
	"survey":                        &Survey{},
	"survey_field":                  &SurveyField{},
	"survey_field_option":           &SurveyFieldOption{},
	"survey_responder":              &SurveyResponder{},
	"survey_field_value":            &SurveyFieldValue{},
	"option":                        &Option{},
}

// RegistryNames 已注册的模型名称，按字母排序
func RegistryNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All 返回需要迁移的全部模型，按依赖顺序排列
func All() []interface{} {
	return []interface{}{
		&User{},
		&CustomerGroup{},
		&Customer{},
		&CustomerQuotaMark{},
		&BounceServer{},
		&DeliveryServer{},
		&DeliveryServerDomainPolicy{},
		&DeliveryServerUsageLog{},
		&List{},
		&ListField{},
		&ListSubscriber{},
		&ListFieldValue{},
		&ListSubscriberListMove{},
		&CampaignGroup{},
		&Campaign{},
		&CampaignOption{},
		&CampaignTemplate{},
		&CampaignURL{},
		&CampaignDeliveryLog{},
		&CampaignBounceLog{},
		&CampaignTrackOpen{},
		&CampaignTrackURL{},
		&CampaignShareCode{},
		&CampaignWebhook{},
		&CampaignWebhookQueue{},
		&Survey{},
		&SurveyField{},
		&SurveyFieldOption{},
		&SurveyResponder{},
		&SurveyFieldValue{},
		&Option{},
	}
}
