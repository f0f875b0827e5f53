package notifier

// TextNotifier 最小化的文本推送接口。实盘服务只依赖它，
// 不感知具体实现（Telegram 等）。
type TextNotifier interface {
	SendText(text string) error
}

// Nop 丢弃所有消息，未配置通知渠道时使用。
type Nop struct{}

func (Nop) SendText(string) error { return nil }
