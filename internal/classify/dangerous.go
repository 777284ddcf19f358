package classify

// builtinDangerous lists C library functions with no bounds checking or with
// caller-controlled format strings. Calls into them mark the attack surface.
var builtinDangerous = map[string]bool{
	// string copies without a destination size
	"strcpy": true, "strcat": true, "stpcpy": true,
	"wcscpy": true, "wcscat": true,
	"strncpy": true, "strncat": true,
	"lstrcpy": true, "lstrcat": true,

	// memory moves trusting the caller's length
	"memcpy": true, "memmove": true, "bcopy": true, "memccpy": true,
	"alloca": true,

	// stdio.h formatting and unbounded reads
	"gets": true,
	"sprintf": true, "vsprintf": true,
	"snprintf": true, "vsnprintf": true,
	"printf": true, "vprintf": true,
	"fprintf": true, "vfprintf": true,
	"scanf": true, "fscanf": true, "sscanf": true,
	"vscanf": true, "vfscanf": true, "vsscanf": true,
	"syslog": true,

	// tokenizers and path helpers with static buffers
	"strtok": true, "realpath": true, "getwd": true,
	"tmpnam": true, "tempnam": true, "mktemp": true,

	// process execution
	"system": true, "popen": true,
	"execl": true, "execlp": true, "execle": true,
	"execv": true, "execvp": true, "execve": true,
}

// IsDangerousName reports whether name is on the built-in unsafe-function list.
func IsDangerousName(name string) bool {
	return builtinDangerous[name]
}
