package protocol

// FormatBool spells a boolean the way the device firmware parses it.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// FormatConnectivity builds the connectivity report sent for CommandCheckInternet.
func FormatConnectivity(wanOK, lanOK bool) string {
	return "serverconnection" + FieldDelimiter + FormatBool(wanOK) + FieldDelimiter + FormatBool(lanOK)
}
