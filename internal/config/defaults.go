package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:5000/api",
			TimeoutSeconds: 30,
		},
		Gateway: GatewayConfig{
			Mode:         "browser",
			KeyID:        "${RAZORPAY_KEY_ID:-rzp_test_key}",
			MerchantName: "ChatSphere Pay",
			ThemeColor:   "#10B981",
			ScriptURL:    "https://checkout.razorpay.com/v1/checkout.js",
			ProfileDir:   "~/.paychat/chrome-profile",
		},
		Dispatch: DispatchConfig{
			DelayMs: 1000,
			Channel: "cli",
		},
		Render: RenderConfig{
			TimeZone: "Asia/Kolkata",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			WebSocket: WebSocketConfig{
				Addr: "127.0.0.1:8081",
				Path: "/ws",
			},
			Webhook: WebhookConfig{
				Path: "/webhook",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.paychat/ledger.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Events: EventsConfig{
			Redis: RedisStreamConfig{
				Addr:   "127.0.0.1:6379",
				Stream: "paychat:events",
				MaxLen: 10000,
			},
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     5000,
			Currency: "INR",
		},
	}
}
