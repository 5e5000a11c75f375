package camera

// PreviewCallback はプレビューフレームを1枚だけ受け取る
//
// ワーカースレッドから呼ばれるため、ブロックしてはならない。
type PreviewCallback interface {
	OnPreview(data *SourceData)
	OnPreviewError(err error)
}

// PictureCallback は静止画を1枚だけ受け取る
//
// ワーカースレッドから呼ばれるため、ブロックしてはならない。
type PictureCallback interface {
	OnPicture(data *SourceData)
	OnPictureError(err error)
}

// PreviewFuncs は関数をPreviewCallbackとして使うためのアダプター
type PreviewFuncs struct {
	Preview func(data *SourceData)
	Error   func(err error)
}

// OnPreview はPreviewを呼ぶ
func (f PreviewFuncs) OnPreview(data *SourceData) {
	if f.Preview != nil {
		f.Preview(data)
	}
}

// OnPreviewError はErrorを呼ぶ
func (f PreviewFuncs) OnPreviewError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// PictureFuncs は関数をPictureCallbackとして使うためのアダプター
type PictureFuncs struct {
	Picture func(data *SourceData)
	Error   func(err error)
}

// OnPicture はPictureを呼ぶ
func (f PictureFuncs) OnPicture(data *SourceData) {
	if f.Picture != nil {
		f.Picture(data)
	}
}

// OnPictureError はErrorを呼ぶ
func (f PictureFuncs) OnPictureError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// FrameResult はチャネル経由で受け取るための1回分の結果
type FrameResult struct {
	Data *SourceData
	Err  error
}

// PreviewToChannel は結果をchに送るPreviewCallbackを返す
//
// chは1以上のバッファを持つこと。送れない結果は捨てられる。
func PreviewToChannel(ch chan<- FrameResult) PreviewCallback {
	return PreviewFuncs{
		Preview: func(data *SourceData) { trySend(ch, FrameResult{Data: data}) },
		Error:   func(err error) { trySend(ch, FrameResult{Err: err}) },
	}
}

// PictureToChannel は結果をchに送るPictureCallbackを返す
func PictureToChannel(ch chan<- FrameResult) PictureCallback {
	return PictureFuncs{
		Picture: func(data *SourceData) { trySend(ch, FrameResult{Data: data}) },
		Error:   func(err error) { trySend(ch, FrameResult{Err: err}) },
	}
}

func trySend(ch chan<- FrameResult, r FrameResult) {
	select {
	case ch <- r:
	default:
	}
}
