package common

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"dprobe/core/report"

	"github.com/malfunkt/iprange"
	iputil "github.com/projectdiscovery/utils/ip"
)

// 初步解析数据
type Parsed struct {
	Targets []string // IP 或域名，已去重
	Probes  []string

	seen map[string]struct{}
}

var ParseInfo Parsed

func Parse() error {
	probes, err := ParseProbes(Infos.Probes)
	if err != nil {
		return err
	}
	ParseInfo.Probes = probes

	if Infos.TargetAddr != "" {
		if err := ParseInfo.AddList(Infos.TargetAddr); err != nil {
			return fmt.Errorf("failed to parse addr: %v", err)
		}
	}

	if Infos.TargetFile != "" {
		if err := ParseInfo.AddFile(Infos.TargetFile); err != nil {
			return fmt.Errorf("failed to parse addrfile: %v", err)
		}
	}
	return nil
}

// AddList 解析逗号分隔的目标
func (p *Parsed) AddList(addr string) error {
	for _, a := range strings.Split(addr, ",") {
		if err := p.AddAddr(a); err != nil {
			return err
		}
	}
	return nil
}

// AddAddr 依次尝试 IP、IP 列表/CIDR/范围、带协议的 URL、域名
func (p *Parsed) AddAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	if iputil.IsIP(addr) {
		p.add(addr)
		return nil
	}

	if parsedList, err := iprange.ParseList(addr); err == nil {
		for _, ip := range parsedList.Expand() {
			p.add(ip.String())
		}
		return nil
	}

	host, err := hostOf(addr)
	if err != nil {
		return fmt.Errorf("failed to parse domain: %v", err)
	}
	p.add(host)
	return nil
}

func (p *Parsed) AddFile(filepath string) error {
	file, err := os.Open(filepath)
	if err != nil {
		return fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue // 跳过空行和注释
		}

		if err := p.AddList(line); err != nil {
			return fmt.Errorf("failed to parse line: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file: %v", err)
	}
	return nil
}

func (p *Parsed) add(target string) {
	if p.seen == nil {
		p.seen = make(map[string]struct{})
	}
	if _, ok := p.seen[target]; ok {
		return
	}
	p.seen[target] = struct{}{}
	p.Targets = append(p.Targets, target)
}

// hostOf 支持 example.com、example.com:8080 和 https://example.com/path
func hostOf(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "dummy://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address: %s", addr)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" || strings.ContainsAny(host, " /") {
		return "", fmt.Errorf("invalid address: %s", addr)
	}
	return host, nil
}

// ParseProbes 解析并校验 -probes，保持输入顺序并去重
func ParseProbes(s string) ([]string, error) {
	known := make(map[string]bool, len(report.AllProbes))
	for _, name := range report.AllProbes {
		known[name] = true
	}

	var out []string
	used := make(map[string]bool)
	for _, name := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' // 以逗号和空格为分隔符
	}) {
		name = strings.ToLower(name)
		if !known[name] {
			return nil, fmt.Errorf("未知的探测项: %s", name)
		}
		if used[name] {
			continue
		}
		used[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("至少需要启用一个探测项")
	}
	return out, nil
}
