package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig 出站代理配置
type ProxyConfig struct {
	Type     string // "none", "http", "socks5"
	Host     string
	Port     int
	Username string
	Password string
}

// ParseURL 解析代理地址，空字符串表示直连
func ParseURL(raw string) (*ProxyConfig, error) {
	if raw == "" {
		return nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("invalid proxy port in %q", raw)
	}

	config := &ProxyConfig{
		Type: u.Scheme,
		Host: u.Hostname(),
		Port: port,
	}
	if u.User != nil {
		config.Username = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	if err := ValidateProxyConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateDialer 根据代理配置创建网络拨号器
func CreateDialer(config *ProxyConfig, timeout time.Duration) (proxy.Dialer, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	direct := &net.Dialer{Timeout: timeout}
	if config == nil || config.Type == "none" || config.Type == "" {
		return direct, nil
	}

	proxyAddr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))

	switch config.Type {
	case "socks5":
		var auth *proxy.Auth
		if config.Username != "" {
			auth = &proxy.Auth{
				User:     config.Username,
				Password: config.Password,
			}
		}
		return proxy.SOCKS5("tcp", proxyAddr, auth, direct)
	case "http":
		return &httpProxyDialer{
			proxyAddr: proxyAddr,
			username:  config.Username,
			password:  config.Password,
			timeout:   timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", config.Type)
	}
}

// DialContext 使用拨号器建立连接，拨号器支持context时使用context
func DialContext(ctx context.Context, dialer proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return dialer.Dial(network, addr)
}

// ValidateProxyConfig 验证代理配置
func ValidateProxyConfig(config *ProxyConfig) error {
	if config == nil {
		return nil
	}

	if config.Type == "none" || config.Type == "" {
		return nil
	}

	if config.Host == "" {
		return fmt.Errorf("proxy host is required")
	}

	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("proxy port must be between 1 and 65535")
	}

	if config.Type != "http" && config.Type != "socks5" {
		return fmt.Errorf("proxy type must be 'http' or 'socks5'")
	}

	return nil
}

// httpProxyDialer 通过HTTP CONNECT建立隧道
type httpProxyDialer struct {
	proxyAddr string
	username  string
	password  string
	timeout   time.Duration
}

// Dial 通过HTTP代理建立连接
func (d *httpProxyDialer) Dial(network, addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", d.proxyAddr, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy %s: %w", d.proxyAddr, err)
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if d.username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(d.username + ":" + d.password))
		connectReq += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	connectReq += "\r\n"

	if _, err = conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read proxy response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy returned status %d: %s", resp.StatusCode, resp.Status)
	}

	return conn, nil
}
