package report

import (
	"time"

	"dprobe/core/leak"
	"dprobe/core/ping"
	"dprobe/core/tunnel"
)

// 探测项名称
const (
	ProbeScan   = "scan"
	ProbeLeak   = "leak"
	ProbeTunnel = "tunnel"
	ProbePing   = "ping"
)

var AllProbes = []string{ProbeScan, ProbeLeak, ProbeTunnel, ProbePing}

// Report 单个目标的汇总结果，未启用或无结论的探测项为 nil
type Report struct {
	Target  string         `json:"target"`
	IP      string         `json:"ip,omitempty"`
	Ports   []string       `json:"ports,omitempty"`
	Tunnel  *tunnel.Record `json:"tunnel,omitempty"`
	Ping    *ping.Result   `json:"ping,omitempty"`
	Leak    *leak.Result   `json:"leak,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	Elapsed time.Duration  `json:"elapsed"`
}

func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}
