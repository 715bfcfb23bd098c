// Package config loads the configuration of a smallrabbit worker with
// viper: an optional YAML file, then environment variables.
//
//	rabbit:
//	  connection:
//	    host: rabbitmq
//	    port: 5672
//	  reconnect:
//	    max_attempts: 5
//	    max_total_delay: 15s
//	consumer:
//	  queue: emails
//	  max_tries: 3
//	  max_execution: 60s
//	dead_letter:
//	  enabled: true
//	postgres:
//	  connection:
//	    host: db
//	    db_name: jobs
//
// The conventional environment names are bound as well, e.g.
// RABBITMQ_HOST, RABBITMQ_SAVE_NOT_PROCESSED_MESSAGES and DB_HOST.
package config
