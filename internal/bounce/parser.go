package bounce

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"mailwizz/internal/models"

	"github.com/emersion/go-message"
)

// 投递邮件时写入的追踪头
const (
	HeaderCampaignUID   = "X-Mw-Campaign-Uid"
	HeaderSubscriberUID = "X-Mw-Subscriber-Uid"
)

const (
	maxPartSize   = 1 << 20
	maxNesting    = 5
	maxMessageLen = 1000
)

var (
	dsnStatusPattern     = regexp.MustCompile(`\b([245])\.\d{1,3}\.\d{1,3}\b`)
	campaignUIDPattern   = regexp.MustCompile(`(?i)` + HeaderCampaignUID + `:\s*([a-z0-9]{13})\b`)
	subscriberUIDPattern = regexp.MustCompile(`(?i)` + HeaderSubscriberUID + `:\s*([a-z0-9]{13})\b`)

	// ErrNotIdentified 退信中找不到活动或订阅者标识
	ErrNotIdentified = errors.New("bounce does not reference a campaign subscriber")
)

// Bounce 从退信中提取的信息
type Bounce struct {
	CampaignUID   string
	SubscriberUID string
	Status        string
	Diagnostic    string
	Type          string
}

// Identified 是否同时找到了活动和订阅者
func (b *Bounce) Identified() bool {
	return b.CampaignUID != "" && b.SubscriberUID != ""
}

// Message 保存到退信日志的说明
func (b *Bounce) Message() string {
	msg := strings.TrimSpace(b.Diagnostic)
	if msg == "" {
		msg = b.Status
	} else if b.Status != "" && !strings.Contains(msg, b.Status) {
		msg = b.Status + " " + msg
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}

type bounceParser struct {
	bounce Bounce
	text   bytes.Buffer
}

// ParseBounce 解析退信：读取DSN状态和诊断信息，在原始邮件的头部中查找活动和订阅者标识
func ParseBounce(r io.Reader) (*Bounce, error) {
	entity, err := message.Read(r)
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("failed to read bounce message: %w", err)
	}

	p := &bounceParser{}
	if err := p.walk(entity, 0); err != nil {
		return nil, err
	}
	p.fallback()

	p.bounce.Type = Classify(p.bounce.Status)
	return &p.bounce, nil
}

// Classify 按DSN状态码分类：5.x.x为硬退信，4.x.x为软退信，其余为内部退信
func Classify(status string) string {
	switch {
	case strings.HasPrefix(status, "5."):
		return models.BounceTypeHard
	case strings.HasPrefix(status, "4."):
		return models.BounceTypeSoft
	default:
		return models.BounceTypeInternal
	}
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func (p *bounceParser) walk(e *message.Entity, depth int) error {
	p.scanHeader(e.Header)

	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !tolerable(err) {
				return fmt.Errorf("failed to read bounce part: %w", err)
			}
			if err := p.walk(part, depth); err != nil {
				return err
			}
		}
	}

	body, err := io.ReadAll(io.LimitReader(e.Body, maxPartSize))
	if err != nil {
		return fmt.Errorf("failed to read bounce body: %w", err)
	}

	mediaType, _, _ := e.Header.ContentType()
	switch strings.ToLower(mediaType) {
	case "message/delivery-status", "message/global-delivery-status":
		p.deliveryStatus(body)
	case "message/rfc822", "message/global", "text/rfc822-headers":
		if depth >= maxNesting {
			return nil
		}
		if !bytes.Contains(body, []byte("\n\n")) && !bytes.Contains(body, []byte("\r\n\r\n")) {
			body = append(body, "\r\n\r\n"...)
		}
		embedded, err := message.Read(bytes.NewReader(body))
		if err != nil && !tolerable(err) {
			p.text.Write(body)
			return nil
		}
		return p.walk(embedded, depth+1)
	default:
		if mediaType == "" || strings.HasPrefix(mediaType, "text/") {
			p.text.Write(body)
			p.text.WriteByte('\n')
		}
	}
	return nil
}

func (p *bounceParser) scanHeader(h message.Header) {
	if p.bounce.CampaignUID == "" {
		p.bounce.CampaignUID = strings.TrimSpace(h.Get(HeaderCampaignUID))
	}
	if p.bounce.SubscriberUID == "" {
		p.bounce.SubscriberUID = strings.TrimSpace(h.Get(HeaderSubscriberUID))
	}
}

// deliveryStatus 读取第一个收件人的Status和Diagnostic-Code
func (p *bounceParser) deliveryStatus(body []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	var field string
	for scanner.Scan() {
		line := scanner.Text()
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && field == "diagnostic-code" {
			p.bounce.Diagnostic += " " + strings.TrimSpace(line)
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			field = ""
			continue
		}
		field = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch field {
		case "status":
			if p.bounce.Status == "" {
				p.bounce.Status = dsnStatusPattern.FindString(value)
			}
		case "diagnostic-code":
			if p.bounce.Diagnostic == "" {
				// smtp; 550 5.1.1 User unknown
				if _, diag, found := strings.Cut(value, ";"); found {
					value = strings.TrimSpace(diag)
				}
				p.bounce.Diagnostic = value
			} else {
				field = ""
			}
		}
	}
}

// fallback 没有结构化信息时从正文中查找
func (p *bounceParser) fallback() {
	text := p.text.String()

	if p.bounce.CampaignUID == "" {
		if m := campaignUIDPattern.FindStringSubmatch(text); m != nil {
			p.bounce.CampaignUID = strings.ToLower(m[1])
		}
	}
	if p.bounce.SubscriberUID == "" {
		if m := subscriberUIDPattern.FindStringSubmatch(text); m != nil {
			p.bounce.SubscriberUID = strings.ToLower(m[1])
		}
	}
	if p.bounce.Status == "" {
		p.bounce.Status = dsnStatusPattern.FindString(text)
	}
	if p.bounce.Diagnostic == "" {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if p.bounce.Status != "" && strings.Contains(line, p.bounce.Status) {
				p.bounce.Diagnostic = line
				break
			}
		}
	}
}
