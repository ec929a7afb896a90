// Package logger provee el logger Zap compartido por el adapter, los drivers y el CLI.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada operación del adapter puede llevar un logger con
//     campos propios (op, collection) vía ToContext/From.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//
// # Usage
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.Named("store.couchbase")
//	log.Info("bucket ready", logger.Bucket(name))
package logger
