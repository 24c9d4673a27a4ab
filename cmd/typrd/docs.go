package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           typrd API
// @version         1.0
// @description     HTTP API for sharing a local transcription model with peers.
//
// @contact.name   typrd maintainers
// @contact.url    https://github.com/your-org/typrd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /api/v1
//
// @schemes http
//
// @securityDefinitions.apikey SharedKey
// @in header
// @name X-VoiceTypr-Key
