package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/genqueue/internal/model"
	"github.com/mautops/genqueue/internal/service"
	"github.com/mautops/genqueue/internal/statemachine"
	"github.com/mautops/genqueue/internal/utils"
)

// JobController 生成任务控制器
type JobController struct {
	jobService   service.JobService
	statsService service.StatisticsService
}

// NewJobController 创建生成任务控制器
func NewJobController(jobService service.JobService, statsService service.StatisticsService) *JobController {
	return &JobController{
		jobService:   jobService,
		statsService: statsService,
	}
}

// validateJobID 验证任务 ID 并返回错误响应(如果无效)
func (c *JobController) validateJobID(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	if err := utils.ValidateJobID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid job ID", err.Error())
		return "", false
	}
	return id, true
}

// bindJSON 解析请求体,失败时输出 400
func bindJSON(ctx *gin.Context, obj interface{}) bool {
	if err := ctx.ShouldBindJSON(obj); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

// Create 创建任务,立即返回排队中的任务
// @Summary      创建生成任务
// @Description  任务立即以 queued 状态返回,内容阶段在后台执行
// @Tags         任务管理
// @Accept       json
// @Produce      json
// @Param        request body service.CreateJobRequest true "生成参数"
// @Success      201  {object}  Response{data=model.GenerationJob}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs [post]
func (c *JobController) Create(ctx *gin.Context) {
	var req service.CreateJobRequest
	if !bindJSON(ctx, &req) {
		return
	}

	job, err := c.jobService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err, "create job")
		return
	}

	Created(ctx, job)
}

// List 分页查询任务
// @Summary      查询任务列表
// @Description  按状态、优先级、时间范围和关键字分页查询
// @Tags         任务管理
// @Produce      json
// @Param        status query string false "状态或 all"
// @Param        priority query string false "优先级或 all"
// @Param        date_range query string false "today/week/month/all"
// @Param        search query string false "主题或标题关键字"
// @Param        page query int false "页码"
// @Param        page_size query int false "每页数量"
// @Success      200  {object}  PaginatedResponse{data=[]model.GenerationJob}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs [get]
func (c *JobController) List(ctx *gin.Context) {
	var req service.ListJobsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	search, err := utils.CleanSearch(req.Search)
	if err != nil {
		HandleError(ctx, err, "list jobs")
		return
	}
	req.Search = search
	if req.PageSize > service.MaxPageSize {
		req.PageSize = service.MaxPageSize
	}

	jobs, total, err := c.jobService.List(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err, "list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.GenerationJob{}
	}
	Paginated(ctx, jobs, NewPaginationInfo(req.Page, req.PageSize, total))
}

// Get 获取任务详情
// @Summary      获取任务详情
// @Description  包含进度历史、展示标题和状态元数据
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=service.JobDetail}
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id} [get]
func (c *JobController) Get(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	detail, err := c.jobService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "get job")
		return
	}

	Success(ctx, detail)
}

// Update 修改任务状态
// @Summary      修改任务状态
// @Description  目标为 queued 时按重试处理,阶段执行期间返回 409
// @Tags         任务管理
// @Accept       json
// @Produce      json
// @Param        id path string true "任务 ID"
// @Param        request body service.UpdateStatusRequest true "目标状态"
// @Success      200  {object}  Response{data=model.GenerationJob}
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      412  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id} [patch]
func (c *JobController) Update(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if !bindJSON(ctx, &req) {
		return
	}

	job, err := c.jobService.UpdateStatus(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err, "update job")
		return
	}

	Success(ctx, job)
}

// Delete 删除任务
// @Summary      删除任务
// @Description  任何状态都可以删除,进行中的阶段结果被丢弃
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id} [delete]
func (c *JobController) Delete(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	if err := c.jobService.Delete(ctx.Request.Context(), id); err != nil {
		HandleError(ctx, err, "delete job")
		return
	}

	Success(ctx, gin.H{"id": id, "deleted": true})
}

// Retry 重试任务
// @Summary      重试任务
// @Description  仅 failed 或 rejected 任务可以重试
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=model.GenerationJob}
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      412  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/retry [post]
func (c *JobController) Retry(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	job, err := c.jobService.Retry(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "retry job")
		return
	}

	Success(ctx, job)
}

// Regenerate 以相同参数创建新任务
// @Summary      重新生成
// @Description  以相同参数创建新任务
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      201  {object}  Response{data=model.GenerationJob}
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/regenerate [post]
func (c *JobController) Regenerate(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	job, err := c.jobService.Regenerate(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "regenerate job")
		return
	}

	Created(ctx, job)
}

// TriggerPhase 触发图片或增强阶段
// @Summary      触发阶段
// @Description  触发图片或增强阶段
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Param        phase path string true "images 或 enhancement"
// @Success      202  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      412  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/phases/{phase} [post]
func (c *JobController) TriggerPhase(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}
	phase := ctx.Param("phase")

	if err := c.jobService.TriggerPhase(ctx.Request.Context(), id, phase); err != nil {
		HandleError(ctx, err, fmt.Sprintf("trigger %s phase", phase))
		return
	}

	Accepted(ctx, gin.H{"id": id, "phase": phase})
}

// LinkArtifact 创建草稿并关联
// @Summary      创建草稿
// @Description  将生成结果复制到草稿存储并关联
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=model.GenerationJob}
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      412  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/artifact [post]
func (c *JobController) LinkArtifact(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	job, err := c.jobService.LinkArtifact(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "link artifact")
		return
	}

	Success(ctx, job)
}

// AppendProgress 追加进度事件
// @Summary      上报进度
// @Description  追加一条进度事件
// @Tags         任务管理
// @Accept       json
// @Produce      json
// @Param        id path string true "任务 ID"
// @Param        request body service.AppendProgressRequest true "进度事件"
// @Success      201  {object}  Response{data=model.ProgressEvent}
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/progress [post]
func (c *JobController) AppendProgress(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	var req service.AppendProgressRequest
	if !bindJSON(ctx, &req) {
		return
	}

	event, err := c.jobService.AppendProgress(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleError(ctx, err, "append progress")
		return
	}

	Created(ctx, event)
}

// Progress 当前进度
// @Summary      当前进度
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=progress.View}
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/progress [get]
func (c *JobController) Progress(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	view, err := c.jobService.Progress(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "get progress")
		return
	}

	Success(ctx, view)
}

// Timeline 去重后的进度时间线
// @Summary      进度时间线
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=[]model.ProgressEvent}
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/timeline [get]
func (c *JobController) Timeline(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	events, err := c.jobService.Timeline(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "get timeline")
		return
	}

	Success(ctx, events)
}

// History 状态变更历史
// @Summary      状态历史
// @Tags         任务管理
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=[]model.StateHistoryModel}
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id}/history [get]
func (c *JobController) History(ctx *gin.Context) {
	id, ok := c.validateJobID(ctx)
	if !ok {
		return
	}

	history, err := c.jobService.History(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err, "get history")
		return
	}

	Success(ctx, history)
}

// BatchUpdateStatus 批量修改状态,返回部分成功汇总
// @Summary      批量修改状态
// @Description  返回每个任务的成功或失败
// @Tags         任务管理
// @Accept       json
// @Produce      json
// @Param        request body service.BatchStatusRequest true "任务 ID 和目标状态"
// @Success      200  {object}  Response{data=service.BatchResult}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/batch/status [post]
func (c *JobController) BatchUpdateStatus(ctx *gin.Context) {
	var req service.BatchStatusRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.jobService.BatchUpdateStatus(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err, "batch update jobs")
		return
	}

	Success(ctx, result)
}

// BatchDelete 批量删除,返回部分成功汇总
// @Summary      批量删除
// @Description  返回每个任务的成功或失败
// @Tags         任务管理
// @Accept       json
// @Produce      json
// @Param        request body service.BatchDeleteRequest true "任务 ID"
// @Success      200  {object}  Response{data=service.BatchResult}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/batch/delete [post]
func (c *JobController) BatchDelete(ctx *gin.Context) {
	var req service.BatchDeleteRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.jobService.BatchDelete(ctx.Request.Context(), &req)
	if err != nil {
		HandleError(ctx, err, "batch delete jobs")
		return
	}

	Success(ctx, result)
}

// Stats 任务统计,window 为 Go duration 格式,默认 24h
// @Summary      任务统计
// @Tags         任务管理
// @Produce      json
// @Param        window query string false "Go duration,默认 24h"
// @Success      200  {object}  Response{data=service.JobStatistics}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/stats [get]
func (c *JobController) Stats(ctx *gin.Context) {
	window := service.DefaultStatsWindow
	if raw := ctx.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			Error(ctx, http.StatusBadRequest, "invalid window", fmt.Sprintf("window must be a positive duration such as 24h, got %q", raw))
			return
		}
		window = d
	}

	stats, err := c.statsService.Stats(ctx.Request.Context(), window)
	if err != nil {
		HandleError(ctx, err, "get statistics")
		return
	}

	Success(ctx, stats)
}

// statusInfo 状态元数据及合法的下一状态
type statusInfo struct {
	statemachine.Metadata
	Terminal bool                  `json:"terminal"`
	Next     []statemachine.Status `json:"next"`
}

// Statuses 返回全部状态的展示元数据
// @Summary      状态列表
// @Description  全部状态的展示元数据及合法的下一状态
// @Tags         状态
// @Produce      json
// @Success      200  {object}  Response
// @Router       /statuses [get]
func Statuses(ctx *gin.Context) {
	all := statemachine.All()
	out := make([]statusInfo, 0, len(all))
	for _, s := range all {
		next := statemachine.NextStates(s)
		if next == nil {
			next = []statemachine.Status{}
		}
		out = append(out, statusInfo{
			Metadata: statemachine.MetadataFor(string(s)),
			Terminal: s.IsTerminal(),
			Next:     next,
		})
	}
	Success(ctx, out)
}
