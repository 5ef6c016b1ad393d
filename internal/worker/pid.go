package worker

import "os"

func currentPID() int { return os.Getpid() }
