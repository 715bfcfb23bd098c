// Package cli implements the smallrabbit command line. Applications embed
// it with their own handlers:
//
//	var registry = rabbit.NewRegistry(map[string]rabbit.HandlerFactory{
//		"emails": func() rabbit.Handler { return &SendEmail{} },
//	})
//
//	func main() {
//		os.Exit(cli.Execute(registry, version, os.Args[1:]))
//	}
//
// Commands:
//
//	consume [QUEUE] --tries N --max-time SECONDS
//	supervise [QUEUE] [-- WORKER COMMAND...]
//	deadletter --data=BASE64
//	deadletter list [--queue Q] [--limit N]
//	send [MESSAGE] --queue Q --exchange E --routing-key K --type T [--json]
//
// consume exits with 1 when the worker can not start and with 124 when a
// handler ignored its deadline. supervise restarts the worker and records
// the delivery it was handling when it died.
package cli
