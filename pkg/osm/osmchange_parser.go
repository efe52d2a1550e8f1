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
	"time"

	"github.com/klauspost/compress/gzip"
)

// ParseOsmChangeFile decompresses r as gzip and streams the XML inside,
// producing one OsmChange batch. The top-level <create>/<modify>/<delete>
// element determines the Action applied to every element nested inside it,
// per the OsmChange wire format.
func ParseOsmChangeFile(r io.Reader) (OsmChange, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return OsmChange{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
	}
	defer gz.Close()

	dec := xml.NewDecoder(gz)
	var change OsmChange
	var action Action

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return OsmChange{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "create":
			action = ActionCreate
			continue
		case "modify":
			action = ActionModify
			continue
		case "delete":
			action = ActionRemove
			continue
		case "node":
			node, ts, err := decodeNode(dec, start, action)
			if err != nil {
				return OsmChange{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
			}
			change.Nodes = append(change.Nodes, node)
			if ts.After(change.FinalTimestamp) {
				change.FinalTimestamp = ts
			}
		case "way":
			way, ts, err := decodeWay(dec, start, action)
			if err != nil {
				return OsmChange{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
			}
			change.Ways = append(change.Ways, way)
			if ts.After(change.FinalTimestamp) {
				change.FinalTimestamp = ts
			}
		case "relation":
			rel, ts, err := decodeRelation(dec, start, action)
			if err != nil {
				return OsmChange{}, fmt.Errorf("osm: %w: %v", ErrParseError, err)
			}
			change.Relations = append(change.Relations, rel)
			if ts.After(change.FinalTimestamp) {
				change.FinalTimestamp = ts
			}
		}
	}

	return change, nil
}

func decodeNode(dec *xml.Decoder, start xml.StartElement, action Action) (OsmNode, time.Time, error) {
	node := OsmNode{Action: action, Tags: make(map[string]string)}
	var ts time.Time

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			node.ID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "lat":
			node.Lat, _ = strconv.ParseFloat(attr.Value, 64)
		case "lon":
			node.Lon, _ = strconv.ParseFloat(attr.Value, 64)
		case "version":
			node.Version, _ = strconv.Atoi(attr.Value)
		case "timestamp":
			ts, _ = time.Parse(time.RFC3339, attr.Value)
		case "uid":
			node.UID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "user":
			node.User = attr.Value
		case "changeset":
			node.Changeset, _ = strconv.ParseInt(attr.Value, 10, 64)
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return OsmNode{}, time.Time{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "tag" {
				k, v := tagAttrs(t)
				node.Tags[k] = v
			}
		case xml.EndElement:
			if t.Name.Local == "node" {
				return node, ts, nil
			}
		}
	}
}

func decodeWay(dec *xml.Decoder, start xml.StartElement, action Action) (OsmWay, time.Time, error) {
	way := OsmWay{Action: action, Tags: make(map[string]string)}
	var ts time.Time

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			way.ID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "timestamp":
			ts, _ = time.Parse(time.RFC3339, attr.Value)
		case "uid":
			way.UID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "user":
			way.User = attr.Value
		case "changeset":
			way.Changeset, _ = strconv.ParseInt(attr.Value, 10, 64)
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return OsmWay{}, time.Time{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "nd":
				for _, attr := range t.Attr {
					if attr.Name.Local == "ref" {
						ref, _ := strconv.ParseInt(attr.Value, 10, 64)
						way.NodeRefs = append(way.NodeRefs, ref)
					}
				}
			case "tag":
				k, v := tagAttrs(t)
				way.Tags[k] = v
			}
		case xml.EndElement:
			if t.Name.Local == "way" {
				return way, ts, nil
			}
		}
	}
}

func decodeRelation(dec *xml.Decoder, start xml.StartElement, action Action) (OsmRelation, time.Time, error) {
	rel := OsmRelation{Action: action, Tags: make(map[string]string)}
	var ts time.Time

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			rel.ID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "timestamp":
			ts, _ = time.Parse(time.RFC3339, attr.Value)
		case "uid":
			rel.UID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "user":
			rel.User = attr.Value
		case "changeset":
			rel.Changeset, _ = strconv.ParseInt(attr.Value, 10, 64)
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return OsmRelation{}, time.Time{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "member":
				var m Member
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "type":
						m.Type = ElementKind(attr.Value)
					case "ref":
						m.Ref, _ = strconv.ParseInt(attr.Value, 10, 64)
					case "role":
						m.Role = attr.Value
					}
				}
				rel.Members = append(rel.Members, m)
			case "tag":
				k, v := tagAttrs(t)
				rel.Tags[k] = v
			}
		case xml.EndElement:
			if t.Name.Local == "relation" {
				return rel, ts, nil
			}
		}
	}
}
