package config

import "flag"

var (
	Count            int
	Port             string
	Secure           bool
	Http3            bool
	ServerKey        string
	ServerCert       string
	ClientCertVerify bool
	File             string
)

func init() {
	// 获取启动参数
	flag.IntVar(&Count, "n", 1, "Count of caller virtual machines.")
	flag.StringVar(&Port, "p", "8090", "Port to listen.")
	flag.BoolVar(&Secure, "s", false, "Enable https.")
	flag.BoolVar(&Http3, "3", false, "Enable http3.")
	flag.StringVar(&ServerKey, "k", "server.key", "SSL key file.")
	flag.StringVar(&ServerCert, "c", "server.crt", "SSL cert file.")
	flag.BoolVar(&ClientCertVerify, "v", false, "Enable client cert verification.")
	flag.StringVar(&File, "f", "", "Run a script file directly and exit.")

	// 在定义命令行参数之后，调用 Parse 方法对所有命令行参数进行解析
	flag.Parse()
}
