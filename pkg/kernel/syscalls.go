package kernel

import "fmt"

// syscallNames covers the x86-64 syscalls relevant to the latency/error
// metrics in spec.md §4.3; anything outside this table still decodes, just
// under a synthetic name.
var syscallNames = map[uint32]string{
	0:   "read",
	1:   "write",
	2:   "open",
	3:   "close",
	4:   "stat",
	5:   "fstat",
	6:   "lstat",
	8:   "lseek",
	9:   "mmap",
	10:  "mprotect",
	11:  "munmap",
	12:  "brk",
	13:  "rt_sigaction",
	14:  "rt_sigprocmask",
	16:  "ioctl",
	17:  "pread64",
	18:  "pwrite64",
	21:  "access",
	22:  "pipe",
	23:  "select",
	32:  "dup",
	33:  "dup2",
	39:  "getpid",
	41:  "socket",
	42:  "connect",
	43:  "accept",
	44:  "sendto",
	45:  "recvfrom",
	49:  "bind",
	50:  "listen",
	56:  "clone",
	57:  "fork",
	59:  "execve",
	60:  "exit",
	61:  "wait4",
	62:  "kill",
	63:  "uname",
	72:  "fcntl",
	78:  "getdents",
	79:  "getcwd",
	83:  "mkdir",
	84:  "rmdir",
	87:  "unlink",
	89:  "readlink",
	96:  "gettimeofday",
	97:  "getrlimit",
	102: "getuid",
	104: "getgid",
	158: "arch_prctl",
	202: "futex",
	218: "set_tid_address",
	231: "exit_group",
	257: "openat",
	262: "newfstatat",
	302: "prlimit64",
	318: "getrandom",
}

// SyscallName resolves a syscall number to its mnemonic name, falling back
// to a synthetic "syscall_<nr>" label for unmapped numbers (spec.md §4.2
// decode contract).
func SyscallName(nr uint32) string {
	if name, ok := syscallNames[nr]; ok {
		return name
	}
	return fmt.Sprintf("syscall_%d", nr)
}
