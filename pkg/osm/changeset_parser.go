// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package osm

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ChangeSetFile is the parsed result of one changeset-dump replication
// file: every <changeset> element that was not discarded as degenerate.
type ChangeSetFile struct {
	ChangeSets     []ChangeSet
	FinalTimestamp time.Time // last_closed_at across all retained changesets
}

// ParseChangeSetFile decompresses r as gzip and streams the XML inside,
// producing one ChangeSet per <changeset> element. It tolerates a missing
// closed_at attribute, treating such records as still open, per spec.md
// §4.3 step 4.
func ParseChangeSetFile(r io.Reader) (ChangeSetFile, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return ChangeSetFile{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
	}
	defer gz.Close()

	var result ChangeSetFile
	dec := xml.NewDecoder(gz)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ChangeSetFile{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "changeset" {
			continue
		}

		cs, err := decodeChangeSet(dec, start)
		if err != nil {
			return ChangeSetFile{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
		}
		if cs.IsDegenerate() {
			continue
		}
		cs.BBox = ExpandDegenerateBBox(cs.BBox)

		result.ChangeSets = append(result.ChangeSets, cs)
		if cs.ClosedAt.After(result.FinalTimestamp) {
			result.FinalTimestamp = cs.ClosedAt
		}
	}

	return result, nil
}

func decodeChangeSet(dec *xml.Decoder, start xml.StartElement) (ChangeSet, error) {
	var cs ChangeSet
	cs.Open = true // absent closed_at means still open

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			cs.ID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "uid":
			cs.UID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "user":
			cs.User = attr.Value
		case "created_at":
			cs.CreatedAt, _ = time.Parse(time.RFC3339, attr.Value)
		case "closed_at":
			if t, err := time.Parse(time.RFC3339, attr.Value); err == nil {
				cs.ClosedAt = t
				cs.Open = false
			}
		case "open":
			cs.Open = attr.Value == "true"
		case "num_changes":
			n, _ := strconv.Atoi(attr.Value)
			cs.NumChanges = n
		case "min_lon":
			cs.BBox.Min[0], _ = strconv.ParseFloat(attr.Value, 64)
		case "min_lat":
			cs.BBox.Min[1], _ = strconv.ParseFloat(attr.Value, 64)
		case "max_lon":
			cs.BBox.Max[0], _ = strconv.ParseFloat(attr.Value, 64)
		case "max_lat":
			cs.BBox.Max[1], _ = strconv.ParseFloat(attr.Value, 64)
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return ChangeSet{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "tag" {
				k, v := tagAttrs(t)
				switch k {
				case "comment":
					cs.Source = v
				case "created_by":
					cs.Editor = v
				default:
					if strings.HasPrefix(k, "hashtags") || k == "hashtags" {
						cs.Hashtags = append(cs.Hashtags, splitHashtags(v)...)
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "changeset" {
				return cs, nil
			}
		}
	}
}

func tagAttrs(start xml.StartElement) (k, v string) {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "k":
			k = attr.Value
		case "v":
			v = attr.Value
		}
	}
	return k, v
}

func splitHashtags(v string) []string {
	var tags []string
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
