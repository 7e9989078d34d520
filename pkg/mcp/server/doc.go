// Package server exposes an OpenAPI tool registry to MCP clients.
//
// An Adapter holds the state of one client session (uninitialized, ready,
// closed) and answers JSON-RPC requests: initialize, ping, tools/list,
// tools/call, resources/list, resources/read, prompts/list and prompts/get.
// Which tools a session sees is decided by a Presenter:
//
//   - DynamicPresenter: one tool per API operation (low-level mode)
//   - GenericInvokerPresenter: list_functions and call_function (simple mode)
//
// Both delegate calls to a Dispatcher, which builds the upstream request and
// invokes it.
//
// # Stdio Example
//
//	dispatcher := server.NewDispatcher(registry, builder, invoker, log)
//	adapter := server.NewAdapter(server.AdapterOptions{
//		Presenter: server.NewDynamicPresenter(dispatcher, log),
//		Registry:  registry,
//	}, log)
//	err := server.ServeStdio(ctx, adapter, 0, os.Stdin, os.Stdout, log)
//
// # Streamable HTTP Example
//
//	httpServer := server.NewStreamableHTTPServer(func() *server.Adapter {
//		return server.NewAdapter(opts, log)
//	}, server.WithToolLister(opts.Presenter), server.WithLogger(log))
//	httpServer.Start(":8080")
//
// Each HTTP session gets its own Adapter, keyed by the Mcp-Session-Id header.
package server
