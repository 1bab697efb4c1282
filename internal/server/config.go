package server

type HttpConfig struct {
	Host string `conf:"host"`
	Port int    `conf:"port"`
	H2c  bool   `conf:"h2c"`
}

func DefaultHttpConfig() HttpConfig {
	return HttpConfig{
		Host: "127.0.0.1",
		Port: 7421,
	}
}
