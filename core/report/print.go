package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/logrusorgru/aurora"
	"github.com/projectdiscovery/gologger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer 在控制台彩色输出报告，并把结果追加到输出文件
type Writer struct {
	OutputFile string
	JSON       bool

	mu sync.Mutex
}

func (w *Writer) Write(rep *Report) {
	gologger.Info().Msgf("%s", Colorize(rep))

	if w.OutputFile == "" {
		return
	}
	line, err := w.encode(rep)
	if err != nil {
		gologger.Error().Msgf("无法编码结果: %s", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		gologger.Error().Msgf("无法写入输出文件: %s", err)
		return
	}
	defer f.Close()
	_, _ = io.WriteString(f, line)
}

func (w *Writer) encode(rep *Report) (string, error) {
	if !w.JSON {
		return Plain(rep) + "\n", nil
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// WriteJSON 以 JSON 编码写出一组报告
func WriteJSON(out io.Writer, reports []*Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// Plain 纯文本格式，写入结果文件
func Plain(rep *Report) string {
	return "[+] " + strings.Join(fields(rep, plainStyle), " | ")
}

// Colorize 控制台格式
func Colorize(rep *Report) string {
	return strings.Join(fields(rep, colorStyle), " | ")
}

type style struct {
	target, ports, ok, warn, bad, muted func(string) string
}

var plainStyle = style{
	target: identity, ports: identity, ok: identity, warn: identity, bad: identity, muted: identity,
}

var colorStyle = style{
	target: func(s string) string { return aurora.BrightBlue(s).String() },
	ports:  func(s string) string { return aurora.Cyan(s).String() },
	ok:     func(s string) string { return aurora.Green(s).String() },
	warn:   func(s string) string { return aurora.Yellow(s).String() },
	bad:    func(s string) string { return aurora.Red(s).String() },
	muted:  func(s string) string { return aurora.Gray(12, s).String() },
}

func identity(s string) string { return s }

func fields(rep *Report, st style) []string {
	target := rep.Target
	if rep.IP != "" && rep.IP != rep.Target {
		target = fmt.Sprintf("%s (%s)", rep.Target, rep.IP)
	}
	out := []string{st.target(target)}

	if rep.Ports != nil {
		out = append(out, "ports: "+st.ports(strings.Join(rep.Ports, ",")))
	}

	if rep.Tunnel != nil {
		t := rep.Tunnel
		desc := fmt.Sprintf("%s %s->%s", t.Type, t.SrcIP, t.DstIP)
		if t.InnerSrc != "" {
			desc += fmt.Sprintf(" [%s->%s]", t.InnerSrc, t.InnerDst)
		}
		out = append(out, "tunnel: "+st.bad(desc))
	}

	if p := rep.Ping; p != nil {
		var desc string
		switch {
		case p.Reason == nil && p.AnomalySuspected:
			desc = st.warn("no reply")
		case p.Reason == nil:
			desc = st.muted("no data")
		case p.AnomalySuspected:
			desc = st.bad(*p.Reason)
		default:
			desc = st.ok(*p.Reason)
		}
		out = append(out, "ping: "+desc)
	}

	if l := rep.Leak; l != nil {
		desc := fmt.Sprintf("seen %d/%d", len(l.Seen), len(l.Expected))
		if l.LeakDetected {
			desc = st.bad(desc + " missing " + strings.Join(l.Missing, ","))
		} else {
			desc = st.ok(desc)
		}
		out = append(out, "leak: "+desc)
	}

	if len(rep.Errors) > 0 {
		out = append(out, "errors: "+st.warn(strings.Join(rep.Errors, "; ")))
	}
	out = append(out, st.muted(rep.Elapsed.Round(time.Millisecond).String()))
	return out
}
