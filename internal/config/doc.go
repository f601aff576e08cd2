// Package config provides configuration management for llmn.
//
// Configuration is loaded from three layers, later layers overriding earlier
// ones:
//
//  1. Default Configuration (embedded in binary)
//  2. User Configuration (~/.config/llmn/config.yaml), global settings only
//  3. Project Configuration (./.llmn/config.yaml)
//
// The project file is the persisted project record: per service it stores the
// explicit enablement (true, false or auto) and the active compose profiles.
//
//	projectName: my-stack
//	initialized: true
//	dirs:
//	  services: services
//	  repos: .repos
//	  volumes: volumes
//	envFile: .env
//	groups: [databases, middleware, apps]
//	externalDependencies: [llmn/host-ollama]
//	services:
//	  llmn/n8n:
//	    enabled: true
//	    profiles: [n8n-custom]
//	  llmn/postgres:
//	    enabled: auto
//
// The user file only carries global settings:
//
//	globalSettings:
//	  containerTool: podman
//	  logLevel: debug
package config
