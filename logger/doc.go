// Package logger provides structured logging for execkit using zerolog.
//
// Loggers are scoped per component ("executor.ssh", "process.pool") and carry
// execution fields so a single execution can be followed across its launch,
// timeout, interrupt and settle events.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("executor.local")
//	log.Info("execution settled", logger.Fields("execution_id", id, "exit_code", 0))
package logger
