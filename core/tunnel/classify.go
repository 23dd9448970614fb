package tunnel

import (
	"bytes"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// 隧道类型
const (
	TypeGRE        = "GRE"
	TypeVXLAN      = "VXLAN"
	TypeIPinIP     = "IP-in-IP"
	TypeL2TP       = "L2TP"
	TypeOpenVPN    = "OpenVPN"
	TypeOpenVPNTLS = "OpenVPN (TLS)"
	TypeMPLS       = "MPLS"
	TypeIPsec      = "IPsec"
)

// Opaque 内层地址无法解析（加密或未解码）
const Opaque = "opaque"

const (
	vxlanPort = 4789
	l2tpPort  = 1701
)

var (
	openVPNPorts  = map[uint16]bool{1194: true, 53: true, 443: true}
	openVPNMarker = []byte("OpenVPN")
	tlsRecord     = []byte{0x16, 0x03}
)

type Record struct {
	Type     string `json:"type"`
	SrcIP    string `json:"src_ip"`
	DstIP    string `json:"dst_ip"`
	InnerSrc string `json:"inner_src,omitempty"`
	InnerDst string `json:"inner_dst,omitempty"`
}

// view 已解码的数据包，outer 为第一个 IP 层的下标
type view struct {
	pkt      gopacket.Packet
	layers   []gopacket.Layer
	outer    int
	src, dst net.IP
}

func newView(pkt gopacket.Packet) *view {
	ls := pkt.Layers()
	for i, l := range ls {
		if src, dst, ok := endpoints(l); ok {
			return &view{pkt: pkt, layers: ls, outer: i, src: src, dst: dst}
		}
	}
	return nil
}

func (v *view) record(kind string) *Record {
	return &Record{Type: kind, SrcIP: v.src.String(), DstIP: v.dst.String(), InnerSrc: Opaque, InnerDst: Opaque}
}

func (v *view) recordInner(kind string, innerSrc, innerDst net.IP) *Record {
	return &Record{Type: kind, SrcIP: v.src.String(), DstIP: v.dst.String(), InnerSrc: innerSrc.String(), InnerDst: innerDst.String()}
}

func (v *view) index(t gopacket.LayerType) int {
	for i, l := range v.layers {
		if l.LayerType() == t {
			return i
		}
	}
	return -1
}

// ipAfter 返回下标 i 之后的第一个 IP 层地址
func (v *view) ipAfter(i int) (net.IP, net.IP, bool) {
	for _, l := range v.layers[i+1:] {
		if src, dst, ok := endpoints(l); ok {
			return src, dst, true
		}
	}
	return nil, nil, false
}

func (v *view) udp() *layers.UDP {
	if l := v.pkt.Layer(layers.LayerTypeUDP); l != nil {
		return l.(*layers.UDP)
	}
	return nil
}

func (v *view) tcp() *layers.TCP {
	if l := v.pkt.Layer(layers.LayerTypeTCP); l != nil {
		return l.(*layers.TCP)
	}
	return nil
}

func endpoints(l gopacket.Layer) (net.IP, net.IP, bool) {
	switch ip := l.(type) {
	case *layers.IPv4:
		return ip.SrcIP, ip.DstIP, true
	case *layers.IPv6:
		return ip.SrcIP, ip.DstIP, true
	}
	return nil, nil, false
}

type matcher func(v *view) (*Record, bool)

// 按优先级排列，第一个命中的规则生效
var matchers = []matcher{
	matchGRE,
	matchVXLAN,
	matchIPinIP,
	matchL2TP,
	matchOpenVPN,
	matchMPLS,
	matchIPsec,
}

func matchGRE(v *view) (*Record, bool) {
	i := v.index(layers.LayerTypeGRE)
	if i < 0 {
		return nil, false
	}
	src, dst, ok := v.ipAfter(i)
	if !ok {
		return nil, false
	}
	return v.recordInner(TypeGRE, src, dst), true
}

func matchVXLAN(v *view) (*Record, bool) {
	udp := v.udp()
	if udp == nil || udp.DstPort != vxlanPort {
		return nil, false
	}
	i := v.index(layers.LayerTypeVXLAN)
	if i < 0 {
		return nil, false
	}
	src, dst, ok := v.ipAfter(i)
	if !ok {
		return nil, false
	}
	return v.recordInner(TypeVXLAN, src, dst), true
}

func matchIPinIP(v *view) (*Record, bool) {
	if v.outer+1 >= len(v.layers) {
		return nil, false
	}
	src, dst, ok := endpoints(v.layers[v.outer+1])
	if !ok {
		return nil, false
	}
	return v.recordInner(TypeIPinIP, src, dst), true
}

func matchL2TP(v *view) (*Record, bool) {
	udp := v.udp()
	if udp == nil || udp.DstPort != l2tpPort {
		return nil, false
	}
	return v.record(TypeL2TP), true
}

func matchOpenVPN(v *view) (*Record, bool) {
	var payload []byte
	if udp := v.udp(); udp != nil && openVPNPorts[uint16(udp.DstPort)] {
		payload = udp.Payload
	} else if tcp := v.tcp(); tcp != nil && openVPNPorts[uint16(tcp.DstPort)] {
		payload = tcp.Payload
	} else {
		return nil, false
	}

	switch {
	case bytes.HasPrefix(payload, openVPNMarker):
		return v.record(TypeOpenVPN), true
	case bytes.HasPrefix(payload, tlsRecord):
		return v.record(TypeOpenVPNTLS), true
	}
	return nil, false
}

func matchMPLS(v *view) (*Record, bool) {
	l := v.pkt.Layer(layers.LayerTypeEthernet)
	if l == nil || l.(*layers.Ethernet).EthernetType != layers.EthernetTypeMPLSUnicast {
		return nil, false
	}
	return v.record(TypeMPLS), true
}

func matchIPsec(v *view) (*Record, bool) {
	if v.pkt.Layer(layers.LayerTypeIPSecESP) == nil && v.pkt.Layer(layers.LayerTypeIPSecAH) == nil {
		return nil, false
	}
	return v.record(TypeIPsec), true
}

// Classify 判断数据包的封装类型，没有 IP 层或都未命中时返回 nil
func Classify(pkt gopacket.Packet) *Record {
	return match(newView(pkt))
}

// classifyFor 只处理外层地址与目标相关的包
func classifyFor(pkt gopacket.Packet, target net.IP) *Record {
	v := newView(pkt)
	if v == nil || !(v.src.Equal(target) || v.dst.Equal(target)) {
		return nil
	}
	return match(v)
}

func match(v *view) *Record {
	if v == nil {
		return nil
	}
	for _, m := range matchers {
		if rec, ok := m(v); ok {
			return rec
		}
	}
	return nil
}
