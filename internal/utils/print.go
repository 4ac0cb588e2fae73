package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/iancoleman/orderedmap"
	"github.com/jedib0t/go-pretty/v6/table"
)

/**
 * Convert a struct to an ordered map keyed by json tags
 * @param {interface{}} v - Struct value whose fields carry json tags
 * @returns {*orderedmap.OrderedMap} Map preserving field declaration order
 * @returns {error} Error when marshalling fails
 * @description
 * - 借助json序列化保留字段声明顺序，用作表格列顺序
 */
func StructToOrderedMap(v interface{}) (*orderedmap.OrderedMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := orderedmap.New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

/**
 * Print a list of records as an aligned table on stdout
 * @param {[]*orderedmap.OrderedMap} records - Rows with identical key sets
 * @description
 * - 第一行的键顺序决定表头顺序
 * - 空列表时打印提示而不是空表
 */
func PrintFormat(records []*orderedmap.OrderedMap) {
	if len(records) == 0 {
		fmt.Println("no records")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	keys := records[0].Keys()
	header := table.Row{}
	for _, k := range keys {
		header = append(header, k)
	}
	t.AppendHeader(header)

	for _, rec := range records {
		row := table.Row{}
		for _, k := range keys {
			val, _ := rec.Get(k)
			row = append(row, fmt.Sprintf("%v", val))
		}
		t.AppendRow(row)
	}
	t.Render()
}
