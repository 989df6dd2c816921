package server

// Version is the service version reported by the API and the CLI. It is
// overridden at build time with -ldflags "-X ...server.Version=...".
var Version = "dev"
