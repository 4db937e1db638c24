package extractor

// ResolveArgs builds the argument list for a JSON metadata dump. The url
// always follows "--" so a value starting with a dash is never read as an
// option.
func ResolveArgs(url, cookies string) []string {
	args := []string{"-J", "--no-warnings", "--no-check-certificate"}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	return append(args, "--", url)
}

// DownloadArgs builds the argument list for streaming one format to stdout.
func DownloadArgs(url, format, mergeFormat, cookies string) []string {
	args := []string{
		"-f", format,
		"-o", "-",
		"--no-part",
		"--no-playlist",
		"--merge-output-format", mergeFormat,
	}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	return append(args, "--", url)
}
