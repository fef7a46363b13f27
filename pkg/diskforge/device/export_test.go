package device

import (
	"context"
	"io/fs"
)

func SetStat(c *Classifier, stat func(string) (fs.FileInfo, error)) {
	c.stat = stat
}

func SetSystemDrive(c *Classifier, drive string) {
	c.systemDrive = drive
}

func SetRunner(u *CommandUnmounter, platform string, run func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	u.platform = platform
	u.run = run
}
