package stremd

// Version is reported by the /status/check endpoint.
const Version = "1.0.0"
