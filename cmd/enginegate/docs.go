package main

// General API documentation for swaggo. Run `swag init -g cmd/enginegate/docs.go`
// and build with -tags=swagger to serve the UI.
//
// @title           enginegate API
// @version         1.0
// @description     Routes inference requests across vLLM, TGI and TensorRT backends and manages their lifecycle.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
