package parse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bookflow/logger"
	"bookflow/storage"
)

// maxLineSize bounds a single store line. Packets with full images for large
// markets run long but stay well under this.
const maxLineSize = 16 * 1024 * 1024

// Parser consolidates append-only store files into single JSON documents,
// one per market, shaped as {"mcm": {timestamp: packet, ...}}.
type Parser struct {
	location *storage.DataLocation
	log      *logger.Log
}

func NewParser(location *storage.DataLocation) *Parser {
	return &Parser{
		location: location,
		log:      logger.GetLogger(),
	}
}

// ParseAll converts every .txt store file under the data directory into a
// consolidated .json file alongside it. With deleteFlag the source file is
// removed after a successful conversion.
func (p *Parser) ParseAll(deleteFlag bool) error {
	paths, err := p.location.StoreFiles()
	if err != nil {
		return err
	}
	for _, path := range paths {
		log := p.log.WithComponent("parser").WithFields(logger.Fields{"file": path})
		log.Info("parsing store file")
		data, err := p.ParseFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		out, err := json.MarshalIndent(consolidatedMarket{Mcm: data}, "", "    ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		newPath := replaceExtension(path, "json")
		if err := os.WriteFile(newPath, out, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", newPath, err)
		}
		log.WithFields(logger.Fields{
			"output":  newPath,
			"packets": len(data),
		}).Info("store file consolidated")
		if deleteFlag {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			log.Info("store file removed")
		}
	}
	return nil
}

type consolidatedMarket struct {
	Mcm map[string]json.RawMessage `json:"mcm"`
}

// ParseFile merges the lines of one store file into a timestamp→packet map.
// A partial final line, left by abnormal termination mid-append, is dropped
// with a warning; a malformed line anywhere else is an error.
func (p *Parser) ParseFile(path string) (map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make(map[string]json.RawMessage)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var pending error
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(line, &entry); err != nil {
			if pending != nil {
				return nil, pending
			}
			pending = fmt.Errorf("malformed line %d: %w", lineNo, err)
			continue
		}
		if pending != nil {
			return nil, pending
		}
		for ts, raw := range entry {
			data[ts] = raw
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if pending != nil {
		p.log.WithComponent("parser").WithFields(logger.Fields{
			"file": path,
			"line": lineNo,
		}).Warn("dropping partial trailing line")
	}
	return data, nil
}

func replaceExtension(path, ext string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i+1] + ext
	}
	return path + "." + ext
}
