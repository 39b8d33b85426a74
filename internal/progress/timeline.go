package progress

import (
	"sort"
	"strconv"

	"github.com/mautops/genqueue/internal/model"
)

// Dedup 对进度事件去重
//
// 有 stage_number 的事件按编号分组,没有编号的按 stage_name 分组。
// 分组顺序取组内第一个事件的位置;全部事件都没有编号时按第一个事件的时间戳排序。
// 每组展示组内最后追加的事件。输入不会被修改。
func Dedup(events []*model.ProgressEvent) []*model.ProgressEvent {
	type group struct {
		latest *model.ProgressEvent
		start  *model.ProgressEvent
	}

	groups := make(map[string]*group)
	order := make([]*group, 0)
	numbered := false

	for _, ev := range events {
		key := "name:" + ev.StageName
		if ev.StageNumber != nil {
			key = "num:" + strconv.Itoa(*ev.StageNumber)
			numbered = true
		}
		g, ok := groups[key]
		if !ok {
			g = &group{start: ev}
			groups[key] = g
			order = append(order, g)
		}
		g.latest = ev
	}

	if !numbered {
		sort.SliceStable(order, func(i, j int) bool {
			return order[i].start.Timestamp.Before(order[j].start.Timestamp)
		})
	}

	out := make([]*model.ProgressEvent, 0, len(order))
	for _, g := range order {
		ev := *g.latest
		out = append(out, &ev)
	}
	return out
}
