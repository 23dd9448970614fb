package network

// UnknownService 未收录端口的服务名
const UnknownService = "UNKNOWN"

// 常见 TCP 端口服务名，命名沿用 /etc/services
var serviceNames = map[int]string{
	7:     "echo",
	9:     "discard",
	13:    "daytime",
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	37:    "time",
	43:    "whois",
	53:    "domain",
	70:    "gopher",
	79:    "finger",
	80:    "http",
	88:    "kerberos",
	102:   "iso-tsap",
	110:   "pop3",
	111:   "sunrpc",
	113:   "auth",
	119:   "nntp",
	123:   "ntp",
	135:   "epmap",
	139:   "netbios-ssn",
	143:   "imap2",
	161:   "snmp",
	179:   "bgp",
	389:   "ldap",
	443:   "https",
	445:   "microsoft-ds",
	465:   "submissions",
	514:   "shell",
	515:   "printer",
	543:   "klogin",
	544:   "kshell",
	548:   "afpovertcp",
	554:   "rtsp",
	587:   "submission",
	631:   "ipp",
	636:   "ldaps",
	873:   "rsync",
	989:   "ftps-data",
	990:   "ftps",
	993:   "imaps",
	995:   "pop3s",
	1080:  "socks",
	1194:  "openvpn",
	1433:  "ms-sql-s",
	1434:  "ms-sql-m",
	1521:  "ncube-lm",
	1701:  "l2f",
	1723:  "pptp",
	1812:  "radius",
	1883:  "mqtt",
	2049:  "nfs",
	2375:  "docker",
	3128:  "squid",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	3690:  "svn",
	4369:  "epmd",
	5060:  "sip",
	5061:  "sip-tls",
	5353:  "mdns",
	5432:  "postgresql",
	5672:  "amqp",
	5900:  "vnc",
	6379:  "redis",
	6443:  "sun-sr-https",
	6667:  "ircd",
	8080:  "http-alt",
	8118:  "privoxy",
	8443:  "https-alt",
	9001:  "tor-orport",
	9030:  "tor-dirport",
	9050:  "tor-socks",
	9051:  "tor-control",
	9100:  "jetdirect",
	9418:  "git",
	11211: "memcache",
	27017: "mongodb",
}

// ServiceName 按端口查服务名，未知返回 UNKNOWN
func ServiceName(port int) string {
	if name, ok := serviceNames[port]; ok {
		return name
	}
	return UnknownService
}
