package zfs

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// CLI shells out to the zfs and zpool binaries. Machine-readable mode
// (-H -p) keeps the parsing to splitting on tabs.
type CLI struct {
	ZfsPath   string
	ZpoolPath string

	logger *log.Entry
}

func NewCLI(logger *log.Entry) *CLI {
	return &CLI{
		ZfsPath:   "zfs",
		ZpoolPath: "zpool",
		logger:    logger,
	}
}

// validName rejects anything that could be read as a flag or smuggle a
// second argument into the command line.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "-") {
		return false
	}
	return !strings.ContainsAny(name, " \t\n@")
}

func (c *CLI) run(bin string, args ...string) ([][]string, error) {
	out, err := exec.Command(bin, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			err = fmt.Errorf("%v %v: %v", bin, args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		c.logger.Warn(err)
		return nil, err
	}
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows, nil
}

func (c *CLI) ListPools() ([]Pool, error) {
	rows, err := c.run(c.ZpoolPath, "list", "-H", "-p", "-o", "name,size,alloc,free,health")
	if err != nil {
		return nil, err
	}
	pools := make([]Pool, 0, len(rows))
	for _, row := range rows {
		if len(row) != 5 {
			continue
		}
		pools = append(pools, Pool{
			Name:   row[0],
			Size:   parseU64(row[1]),
			Alloc:  parseU64(row[2]),
			Free:   parseU64(row[3]),
			Health: row[4],
		})
	}
	return pools, nil
}

func (c *CLI) PoolStatus(pool string) (string, error) {
	if !validName(pool) {
		return "", ErrBadName
	}
	out, err := exec.Command(c.ZpoolPath, "status", pool).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			err = fmt.Errorf("zpool status %v: %v", pool, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

func (c *CLI) ListDatasets() ([]Dataset, error) {
	rows, err := c.run(c.ZfsPath, "list", "-H", "-p", "-t", "filesystem,volume",
		"-o", "name,used,avail,refer,mountpoint")
	if err != nil {
		return nil, err
	}
	datasets := make([]Dataset, 0, len(rows))
	for _, row := range rows {
		if len(row) != 5 {
			continue
		}
		datasets = append(datasets, Dataset{
			Name:       row[0],
			Used:       parseU64(row[1]),
			Avail:      parseU64(row[2]),
			Refer:      parseU64(row[3]),
			Mountpoint: row[4],
		})
	}
	return datasets, nil
}

func (c *CLI) ListSnapshots(dataset string) ([]Snapshot, error) {
	if !validName(dataset) {
		return nil, ErrBadName
	}
	rows, err := c.run(c.ZfsPath, "list", "-H", "-p", "-t", "snapshot", "-r", "-d", "1",
		"-o", "name,used,creation", dataset)
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		if len(row) != 3 {
			continue
		}
		snaps = append(snaps, Snapshot{
			Name:     row[0],
			Used:     parseU64(row[1]),
			Creation: int64(parseU64(row[2])),
		})
	}
	return snaps, nil
}

func (c *CLI) CreateSnapshot(dataset, name string) error {
	if !validName(dataset) || !validName(name) {
		return ErrBadName
	}
	_, err := c.run(c.ZfsPath, "snapshot", dataset+"@"+name)
	return err
}

func (c *CLI) DestroySnapshot(dataset, name string) error {
	if !validName(dataset) || !validName(name) {
		return ErrBadName
	}
	// Refuse anything but a single snapshot; never recursive destroy.
	_, err := c.run(c.ZfsPath, "destroy", dataset+"@"+name)
	return err
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
