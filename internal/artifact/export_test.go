package artifact

import "context"

// NewMinioStoreWithClient 测试使用的构造函数
func NewMinioStoreWithClient(ctx context.Context, client objectClient, bucket string) (*MinioStore, error) {
	return newMinioStore(ctx, client, bucket)
}
