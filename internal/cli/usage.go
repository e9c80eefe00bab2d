package cli

import "fmt"

func printUsage() {
	fmt.Println("ticketrush coordinator")
	fmt.Println("Usage:")
	fmt.Println("  coordinator login")
	fmt.Println("  coordinator sms-login --tel=13800138000 [--code=XXXXXX]")
	fmt.Println("  coordinator grab --event=ID --uid=UID [--screen=ID] [--ticket=ID] [--count=N]")
	fmt.Println("                   [--buyers=id,id | --name=NAME --tel=PHONE]")
	fmt.Println("  coordinator stop [task-id]")
	fmt.Println("  coordinator logs [--levels=info,error] [--filter=TERM] [--export] [--clear]")
	fmt.Println("  coordinator stats")
	fmt.Println("  coordinator state")
	fmt.Println("  coordinator policy")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  TKR_TRANSPORT          ws (default) or redis")
	fmt.Println("  TKR_ENGINE_URL         websocket engine address (default ws://127.0.0.1:8765/ws)")
	fmt.Println("  TKR_REDIS_ADDR         redis engine address (default 127.0.0.1:6379)")
	fmt.Println("  TKR_REDIS_PASSWORD     redis password")
	fmt.Println("  TKR_REDIS_DB           redis database number")
	fmt.Println("  TKR_REDIS_PREFIX       redis key prefix (default tkr)")
	fmt.Println("  TKR_STRATEGY           push (default) or poll result correlation")
	fmt.Println("  TKR_POLL_ATTEMPTS      poll attempt budget (default 30)")
	fmt.Println("  TKR_POLL_INTERVAL_MS   delay between poll attempts (default 500)")
	fmt.Println("  TKR_HISTORY_PATH       sqlite archive path (default ~/.ticketrush/history.db)")
	fmt.Println("  TKR_TRACING            emit OpenTelemetry spans for engine commands")
}
