package version

// Version is the current version of the aegis server
const Version = "0.0.7"

// UserAgent returns the User-Agent string for HTTP requests
func UserAgent() string {
	return "aegis/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "aegis/" + Version
}
