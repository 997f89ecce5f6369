// Package speech 提供会议会话依赖的语音协作方实现：
//
//   - StreamingTranscriber：经 WebSocket 连接带说话人分离的流式转写服务
//   - RecognitionClient：调用声纹识别服务，受熔断器保护
//   - OpenAITTS：文本转语音
package speech
