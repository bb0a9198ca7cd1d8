// Package manifest composes HLS master playlists and extracts the set of files
// a variant playlist depends on.
package manifest

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/abr"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

const (
	// Version is the HLS protocol version written to master playlists.
	// fMP4 segments with EXT-X-MAP in a VOD playlist need version 6 or later.
	Version = 7

	// AVERAGE-BANDWIDTH is advertised as 85% of the peak, floored.
	averagePercent = 85

	headerTag = "#EXTM3U"
	mapTag    = "#EXT-X-MAP:"
)

// BuildMasterManifest returns a master playlist advertising exactly one variant.
func BuildMasterManifest(variantName string, width, height, bandwidth int) string {
	avg := bandwidth * averagePercent / 100

	var b strings.Builder
	b.WriteString(headerTag + "\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", Version)
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n",
		bandwidth, avg, width, height, abr.Codecs)
	b.WriteString(variantName + "\n")
	return b.String()
}

// CollectReferencedFiles returns every file name a variant playlist refers to:
// segment URIs on their own lines and the URI attribute of EXT-X-MAP tags.
// Empty input is an empty set. Text that does not begin with #EXTM3U, or an
// EXT-X-MAP tag without a quoted URI, is a manifest parse failure.
func CollectReferencedFiles(playlist string) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	if strings.TrimSpace(playlist) == "" {
		return refs, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(playlist))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if first {
			first = false
			if line != headerTag {
				return nil, tcerrors.ManifestError("collect_references",
					fmt.Errorf("%w: playlist does not start with %s", tcerrors.ErrManifestParse, headerTag))
			}
			continue
		}

		if strings.HasPrefix(line, mapTag) {
			uri, ok := attribute(line[len(mapTag):], "URI")
			if !ok || uri == "" {
				return nil, tcerrors.ManifestError("collect_references",
					fmt.Errorf("%w: EXT-X-MAP without quoted URI on line %d", tcerrors.ErrManifestParse, lineNo))
			}
			refs[uri] = struct{}{}
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}
		refs[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, tcerrors.ManifestError("collect_references", err)
	}

	return refs, nil
}

// SortedFiles returns the members of a reference set in lexical order.
func SortedFiles(refs map[string]struct{}) []string {
	files := make([]string, 0, len(refs))
	for f := range refs {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// attribute returns the quoted value of key in an attribute list such as
// URI="init.mp4",BYTERANGE="720@0". Unquoted values are not accepted.
func attribute(list, key string) (string, bool) {
	for len(list) > 0 {
		eq := strings.IndexByte(list, '=')
		if eq < 0 {
			return "", false
		}
		name := strings.TrimSpace(list[:eq])
		rest := list[eq+1:]

		var value string
		quoted := strings.HasPrefix(rest, "\"")
		if quoted {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return "", false
			}
			value = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
			rest = rest[end:]
		}

		if name == key {
			return value, quoted
		}

		rest = strings.TrimPrefix(rest, ",")
		list = rest
	}
	return "", false
}
